package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/metrics"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
)

func TestStorageService_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *StorageServiceConfig
	}{
		{name: "reserved allocator base", cfg: &StorageServiceConfig{AllocatorBase: 1}},
		{name: "branching too small", cfg: &StorageServiceConfig{Branching: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStorageService(tt.cfg, nil, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

// Stores, restores, appends a tail, restores again and collects, checking
// the store holds exactly the latest snapshot afterwards.
func TestStorageService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	backend, err := store.NewFileStore(store.FileStoreConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	defer backend.Close()

	t1 := model.Tuple{E: 1, A: ":name", V: model.StringValue("a"), Tx: 100}
	t2 := model.Tuple{E: 2, A: ":name", V: model.StringValue("b"), Tx: 101}

	db := transact(t, emptyDB(t, testBranching), []model.Tuple{t1})
	require.NoError(t, newTestService(t).Store(ctx, db, backend))

	svc := newTestService(t)
	restored, err := svc.Restore(ctx, backend)
	require.NoError(t, err)
	has, err := restored.Has(t1)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, svc.AppendTail(ctx, restored, []model.Tuple{t2}))

	again, err := newTestService(t).Restore(ctx, backend)
	require.NoError(t, err)
	for _, tup := range []model.Tuple{t1, t2} {
		has, err := again.Has(tup)
		require.NoError(t, err)
		assert.True(t, has, "missing %s", tup)
	}
	assert.Equal(t, int64(2), again.MaxEid())
	assert.Equal(t, int64(101), again.MaxTx())

	_, err = svc.Collect(ctx, backend, restored)
	require.NoError(t, err)
	assert.Len(t, listed(t, backend), len(reachable(t, restored, backend))+2)

	// Persist the replayed state so the old nodes become garbage.
	require.NoError(t, svc.Store(ctx, again, backend))
	_, err = svc.Collect(ctx, backend, again)
	require.NoError(t, err)

	want := reachable(t, again, backend)
	want[model.RootAddress] = true
	want[model.TailAddress] = true
	got := listed(t, backend)
	assert.Len(t, got, len(want))
	for _, a := range got {
		assert.True(t, want[a], "unexpected address %s", a)
	}
}

func TestStorageService_Inspect(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 20)
	require.NoError(t, svc.Store(ctx, v1, backend))
	v2 := transact(t, v1, seqTx(100, 3, 100))
	require.NoError(t, svc.Store(ctx, v2, nil))
	require.NoError(t, svc.AppendTail(ctx, v2, seqTx(200, 2, 200)))
	require.NoError(t, svc.AppendTail(ctx, v2, seqTx(300, 1, 300)))

	insp, err := newTestService(t).Inspect(ctx, backend)
	require.NoError(t, err)

	assert.Equal(t, backend.ID(), insp.StoreID)
	require.NotNil(t, insp.Root)
	assert.Equal(t, testBranching, insp.Root.Branching)
	assert.Equal(t, 2, insp.TailLength)
	assert.Equal(t, 3, insp.TailTuples)
	assert.Equal(t, backend.Len(), insp.Addresses)
	assert.NotEmpty(t, insp.Garbage)
	assert.Equal(t, insp.Addresses-len(insp.Garbage), insp.Reachable)
	for _, idx := range model.Indexes {
		assert.Equal(t, 23, insp.IndexCounts[idx], idx.String())
	}

	// Inspect never deletes.
	assert.Equal(t, insp.Addresses, backend.Len())
}

func TestStorageService_InspectEmptyStore(t *testing.T) {
	_, err := newTestService(t).Inspect(context.Background(), store.NewMemoryStore(nil))
	assert.Error(t, err)
}

func TestStorageService_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc, err := NewStorageService(&StorageServiceConfig{Branching: testBranching, Cache: DefaultNodeCacheConfig()}, m, zap.NewNop())
	require.NoError(t, err)
	backend := store.NewMemoryStore(nil)

	db := buildDB(t, testBranching, 10)
	require.NoError(t, svc.Store(ctx, db, backend))
	require.NoError(t, svc.Store(ctx, db, backend))
	require.NoError(t, svc.AppendTail(ctx, db, seqTx(50, 1, 50)))
	_, err = svc.Collect(ctx, backend, db)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreCallsTotal.WithLabelValues(metrics.ResultWritten)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreCallsTotal.WithLabelValues(metrics.ResultNoop)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TailAppendsTotal.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TailLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GCRunsTotal.WithLabelValues(metrics.ResultOK)))
	assert.Positive(t, testutil.ToFloat64(m.NodesWrittenTotal))
}
