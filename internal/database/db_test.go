package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
	"github.com/devrev/pairdb/indexstore/internal/tree"
	"github.com/devrev/pairdb/indexstore/internal/validation"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(nil, &Options{Branching: 4})
	require.NoError(t, err)
	return db
}

func TestNew(t *testing.T) {
	db := newDB(t)
	assert.NotNil(t, db.Schema())
	assert.Equal(t, 4, db.Branching())
	assert.Zero(t, db.MaxEid())
	assert.Zero(t, db.MaxTx())
	assert.Nil(t, db.Backend())

	def, err := New(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, tree.DefaultBranching, def.Branching())
}

func TestNew_RejectsBadSchema(t *testing.T) {
	_, err := New(model.Schema{":name": {Cardinality: "several"}}, nil)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrCodeInvalidArgument, storeerrors.GetCode(err))
}

func TestTransact(t *testing.T) {
	db := newDB(t)
	tx := []model.Tuple{
		{E: 3, A: ":name", V: model.StringValue("c"), Tx: 10},
		{E: 1, A: ":age", V: model.IntValue(30), Tx: 10},
		{E: 2, A: ":name", V: model.StringValue("b"), Tx: 11},
	}
	next, err := db.Transact(tx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), next.MaxEid())
	assert.Equal(t, int64(11), next.MaxTx())

	eavt, err := next.Datoms(model.EAVT)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, []int64{eavt[0].E, eavt[1].E, eavt[2].E})

	aevt, err := next.Datoms(model.AEVT)
	require.NoError(t, err)
	assert.Equal(t, ":age", aevt[0].A)

	avet, err := next.Datoms(model.AVET)
	require.NoError(t, err)
	assert.Equal(t, model.StringValue("b"), avet[1].V)

	for _, tup := range tx {
		has, err := next.Has(tup)
		require.NoError(t, err)
		assert.True(t, has)
	}

	// The receiver is unchanged.
	old, err := db.Datoms(model.EAVT)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestTransact_Invalid(t *testing.T) {
	db := newDB(t)
	tests := []struct {
		name string
		tx   []model.Tuple
	}{
		{name: "empty", tx: nil},
		{name: "zero entity", tx: []model.Tuple{{E: 0, A: ":a", V: model.IntValue(1), Tx: 1}}},
		{name: "empty attribute", tx: []model.Tuple{{E: 1, A: "", V: model.IntValue(1), Tx: 1}}},
		{name: "invalid value", tx: []model.Tuple{{E: 1, A: ":a", Tx: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Transact(tt.tx)
			require.Error(t, err)
			assert.Equal(t, storeerrors.ErrCodeInvalidArgument, storeerrors.GetCode(err))
		})
	}
}

func TestTransact_CustomValidator(t *testing.T) {
	db, err := New(nil, &Options{Validator: validation.NewValidatorWithLimits(256, 1024, 2)})
	require.NoError(t, err)
	_, err = db.Transact([]model.Tuple{
		{E: 1, A: ":a", V: model.IntValue(1), Tx: 1},
		{E: 2, A: ":a", V: model.IntValue(2), Tx: 1},
		{E: 3, A: ":a", V: model.IntValue(3), Tx: 1},
	})
	assert.Error(t, err)
}

func TestBind(t *testing.T) {
	a := store.NewMemoryStore(nil)
	b := store.NewMemoryStore(nil)
	db := newDB(t)

	require.NoError(t, db.Bind(a))
	require.NoError(t, db.Bind(a))
	assert.Equal(t, a.ID(), db.Backend().ID())

	err := db.Bind(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerrors.ErrStorageConflict))
	assert.Equal(t, a.ID(), db.Backend().ID())

	next, err := db.Transact([]model.Tuple{{E: 1, A: ":a", V: model.BoolValue(true), Tx: 1}})
	require.NoError(t, err)
	assert.Equal(t, a.ID(), next.Backend().ID())
}

func TestRestored(t *testing.T) {
	backend := store.NewMemoryStore(nil)
	var indexes [3]*tree.Tree
	for _, idx := range model.Indexes {
		indexes[idx] = tree.New(idx.Comparator(), 8)
	}
	db := Restored(nil, indexes, 5, 9, backend, nil)
	assert.NotNil(t, db.Schema())
	assert.Equal(t, int64(5), db.MaxEid())
	assert.Equal(t, int64(9), db.MaxTx())
	assert.Equal(t, 8, db.Branching())
	assert.Equal(t, backend.ID(), db.Backend().ID())
}
