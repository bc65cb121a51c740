package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
	"github.com/devrev/pairdb/indexstore/internal/tree"
)

func TestGC_KeepsEveryLiveDatabase(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 40)
	require.NoError(t, svc.Store(ctx, v1, backend))
	v2 := transact(t, v1, seqTx(500, 3, 500))
	require.NoError(t, svc.Store(ctx, v2, nil))

	stats, err := svc.Collect(ctx, backend, v1, v2)
	require.NoError(t, err)
	assert.Zero(t, stats.Deleted)

	present := map[model.Address]bool{}
	for _, a := range listed(t, backend) {
		present[a] = true
	}
	for a := range reachable(t, v1, backend) {
		assert.True(t, present[a], "v1 address %s deleted", a)
	}
	for a := range reachable(t, v2, backend) {
		assert.True(t, present[a], "v2 address %s deleted", a)
	}

	// v1 is still fully readable from storage.
	fresh := newTestService(t)
	for _, idx := range model.Indexes {
		root, ok := v1.Index(idx).Root().Location(backend.ID())
		require.True(t, ok)
		n, err := fresh.Codec().Loader(backend).Load(root)
		require.NoError(t, err)
		assert.NotNil(t, n)
	}
}

func TestGC_RemovesOrphans(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 40)
	require.NoError(t, svc.Store(ctx, v1, backend))
	v2 := transact(t, v1, seqTx(500, 3, 500))
	require.NoError(t, svc.Store(ctx, v2, nil))
	before := len(listed(t, backend))

	stats, err := svc.Collect(ctx, backend, v2)
	require.NoError(t, err)

	want := reachable(t, v2, backend)
	want[model.RootAddress] = true
	want[model.TailAddress] = true

	after := listed(t, backend)
	assert.Len(t, after, len(want))
	for _, a := range after {
		assert.True(t, want[a], "orphan %s survived", a)
	}
	assert.Equal(t, before, stats.Listed)
	assert.Equal(t, before-len(after), stats.Deleted)
	assert.Equal(t, len(after), stats.Live)
	assert.Positive(t, stats.Deleted)

	restored, err := newTestService(t).Restore(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, datoms(t, v2), datoms(t, restored))
}

func TestGC_StoredSnapshotIsAlwaysLive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 30)
	require.NoError(t, svc.Store(ctx, v1, backend))

	// With no database passed, only the stored snapshot keeps nodes alive.
	stats, err := svc.Collect(ctx, backend)
	require.NoError(t, err)
	assert.Zero(t, stats.Deleted)

	restored, err := newTestService(t).Restore(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, datoms(t, v1), datoms(t, restored))
}

func TestGC_UnstoredDatabaseKeepsSharedNodes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 40)
	require.NoError(t, svc.Store(ctx, v1, backend))
	pending := transact(t, v1, seqTx(900, 2, 900))

	// An unrelated snapshot replaces v1 as the stored one.
	require.NoError(t, svc.Store(ctx, buildDB(t, testBranching, 5), backend))

	_, err := svc.Collect(ctx, backend, pending)
	require.NoError(t, err)

	// pending can still be stored and read back in full.
	require.NoError(t, svc.Store(ctx, pending, nil))
	restored, err := newTestService(t).Restore(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, datoms(t, pending), datoms(t, restored))
}

func TestGC_RejectsDatabaseBoundElsewhere(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := store.NewMemoryStore(nil)
	b := store.NewMemoryStore(nil)

	db := buildDB(t, testBranching, 10)
	require.NoError(t, svc.Store(ctx, db, a))
	require.NoError(t, svc.Store(ctx, buildDB(t, testBranching, 3), b))
	before := listed(t, b)

	_, err := svc.Collect(ctx, b, db)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerrors.ErrStorageConflict))
	assert.Equal(t, before, listed(t, b))
}

func TestGC_CorruptRootDeletesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	require.NoError(t, svc.Store(ctx, buildDB(t, testBranching, 10), backend))
	backend.PutRaw(model.RootAddress, []byte("not a record"))
	before := listed(t, backend)

	_, err := svc.Collect(ctx, backend)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrCodeCorruptRoot, storeerrors.GetCode(err))
	assert.Equal(t, before, listed(t, backend))
}

func TestGC_MissingBranchDeletesNothing(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore(nil)

	require.NoError(t, newTestService(t).Store(ctx, buildDB(t, testBranching, 40), backend))
	p, err := backend.Restore(ctx, model.RootAddress)
	require.NoError(t, err)
	rootNode, err := backend.Restore(ctx, p.Root.EAVT)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rootNode.Node.Level, 2, "tree too shallow to drop a branch")

	// Children of a level 2 or higher root are branches, which marking loads.
	require.NoError(t, backend.Delete(ctx, []model.Address{rootNode.Node.Addresses[0]}))
	before := listed(t, backend)

	_, err = newTestService(t).Collect(ctx, backend)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrCodeCorruptNode, storeerrors.GetCode(err))
	assert.Equal(t, before, listed(t, backend))
}

func TestGC_Plan(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 20)
	require.NoError(t, svc.Store(ctx, v1, backend))
	require.NoError(t, svc.Store(ctx, transact(t, v1, seqTx(300, 1, 300)), nil))
	before := listed(t, backend)

	plan, err := svc.GC().Plan(ctx, backend)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Garbage)
	assert.Equal(t, before, plan.Listed)
	assert.Equal(t, before, listed(t, backend))
	for _, a := range plan.Garbage {
		_, live := plan.Live[a]
		assert.False(t, live)
	}
}

func TestGC_EvictsDeletedNodesFromCache(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	backend := store.NewMemoryStore(nil)

	v1 := buildDB(t, testBranching, 20)
	require.NoError(t, svc.Store(ctx, v1, backend))
	_, err := svc.Restore(ctx, backend)
	require.NoError(t, err)

	cache := svc.Codec().Cache()
	var roots []tree.Location
	for _, idx := range model.Indexes {
		addr, ok := v1.Index(idx).Root().Location(backend.ID())
		require.True(t, ok)
		loc := tree.Location{Owner: backend.ID(), Addr: addr}
		_, cached := cache.Get(loc)
		require.True(t, cached)
		roots = append(roots, loc)
	}

	v2 := transact(t, emptyDB(t, testBranching), seqTx(700, 2, 700))
	require.NoError(t, svc.Store(ctx, v2, backend))
	stats, err := svc.Collect(ctx, backend, v2)
	require.NoError(t, err)
	require.Positive(t, stats.Deleted)

	for _, loc := range roots {
		_, cached := cache.Get(loc)
		assert.False(t, cached, "deleted node %s still cached", loc.Addr)
	}
}
