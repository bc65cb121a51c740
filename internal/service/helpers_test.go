package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/database"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
)

const testBranching = 4

func newTestService(t *testing.T) *StorageService {
	t.Helper()
	svc, err := NewStorageService(&StorageServiceConfig{
		Branching: testBranching,
		Cache:     DefaultNodeCacheConfig(),
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func emptyDB(t *testing.T, branching int) *database.DB {
	t.Helper()
	db, err := database.New(model.Schema{}, &database.Options{Branching: branching})
	require.NoError(t, err)
	return db
}

// seqTx returns one transaction of n tuples for entities from..from+n-1.
func seqTx(from, n int, tx int64) []model.Tuple {
	out := make([]model.Tuple, 0, n)
	for i := 0; i < n; i++ {
		e := int64(from + i)
		out = append(out, model.Tuple{E: e, A: ":name", V: model.StringValue(fmt.Sprintf("entity-%d", e)), Tx: tx})
	}
	return out
}

func transact(t *testing.T, db *database.DB, txs ...[]model.Tuple) *database.DB {
	t.Helper()
	var err error
	for _, tx := range txs {
		db, err = db.Transact(tx)
		require.NoError(t, err)
	}
	return db
}

// buildDB returns a database with n tuples added in transactions of 10.
func buildDB(t *testing.T, branching, n int) *database.DB {
	t.Helper()
	db := emptyDB(t, branching)
	for from := 1; from <= n; from += 10 {
		db = transact(t, db, seqTx(from, min(10, n-from+1), int64(from)))
	}
	return db
}

var fuzzAttrs = []string{":name", ":age", ":email", ":score", ":active", ":kind"}

// randomTransactions generates valid transactions with every value kind.
func randomTransactions(seed int64, count int) [][]model.Tuple {
	f := fuzz.NewWithSeed(seed).NilChance(0).NumElements(1, 8).Funcs(
		func(t *model.Tuple, c fuzz.Continue) {
			t.E = 1 + c.Int63n(200)
			t.A = fuzzAttrs[c.Intn(len(fuzzAttrs))]
			t.Tx = 1 + c.Int63n(1000)
			switch c.Intn(5) {
			case 0:
				t.V = model.StringValue(c.RandString())
			case 1:
				t.V = model.IntValue(c.Int63() - c.Int63())
			case 2:
				t.V = model.FloatValue(c.NormFloat64() * 1e6)
			case 3:
				t.V = model.BoolValue(c.RandBool())
			default:
				t.V = model.KeywordValue(":" + c.RandString())
			}
		},
	)
	txs := make([][]model.Tuple, count)
	for i := range txs {
		f.Fuzz(&txs[i])
	}
	return txs
}

func datoms(t *testing.T, db *database.DB) map[model.IndexType][]model.Tuple {
	t.Helper()
	out := make(map[model.IndexType][]model.Tuple, len(model.Indexes))
	for _, idx := range model.Indexes {
		d, err := db.Datoms(idx)
		require.NoError(t, err)
		out[idx] = d
	}
	return out
}

// reachable returns every address of backend referenced by db's trees.
func reachable(t *testing.T, db *database.DB, backend store.NodeStore) map[model.Address]bool {
	t.Helper()
	out := make(map[model.Address]bool)
	for _, idx := range model.Indexes {
		require.NoError(t, db.Index(idx).Walk(backend.ID(), func(a model.Address) { out[a] = true }))
	}
	return out
}

func listed(t *testing.T, backend store.NodeStore) []model.Address {
	t.Helper()
	addrs, err := backend.ListAddresses(context.Background())
	require.NoError(t, err)
	return addrs
}

// recordingStore wraps a store and keeps every batch handed to Store.
type recordingStore struct {
	store.NodeStore

	mu      sync.Mutex
	batches [][]store.Entry
}

func (r *recordingStore) Store(ctx context.Context, entries []store.Entry) error {
	r.mu.Lock()
	r.batches = append(r.batches, entries)
	r.mu.Unlock()
	return r.NodeStore.Store(ctx, entries)
}

func (r *recordingStore) lastBatch() []store.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func nodeEntries(entries []store.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Payload.Node != nil {
			n++
		}
	}
	return n
}

// mockStore mocks Store and serves everything else from a memory store.
type mockStore struct {
	mock.Mock
	*store.MemoryStore
}

func newMockStore() *mockStore {
	return &mockStore{MemoryStore: store.NewMemoryStore(nil)}
}

func (m *mockStore) Store(ctx context.Context, entries []store.Entry) error {
	args := m.Called(ctx, entries)
	if err := args.Error(0); err != nil {
		return err
	}
	return m.MemoryStore.Store(ctx, entries)
}
