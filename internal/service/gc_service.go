package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/indexstore/internal/database"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/metrics"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
	"github.com/devrev/pairdb/indexstore/internal/tree"
)

// GCStats summarizes one collection.
type GCStats struct {
	Listed   int
	Live     int
	Deleted  int
	Duration time.Duration
}

// GCPlan is the outcome of the mark phase and the diff against the store.
type GCPlan struct {
	Listed  []model.Address
	Live    map[model.Address]struct{}
	Garbage []model.Address
}

// GCService reclaims addresses no live snapshot references.
type GCService struct {
	snapshots   *SnapshotService
	parallelism int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewGCService creates a collector. parallelism bounds concurrent tree
// walks during marking.
func NewGCService(snapshots *SnapshotService, parallelism int, m *metrics.Metrics, logger *zap.Logger) *GCService {
	if parallelism <= 0 {
		parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCService{
		snapshots:   snapshots,
		parallelism: parallelism,
		metrics:     m,
		logger:      logger,
	}
}

// Collect deletes every address of backend that is not reachable from the
// snapshot stored there or from any of dbs. Callers must pass every live
// database bound to backend.
func (s *GCService) Collect(ctx context.Context, backend store.NodeStore, dbs ...*database.DB) (*GCStats, error) {
	start := time.Now()
	unlock := s.snapshots.codec.lockStore(backend.ID())
	defer unlock()

	plan, err := s.plan(ctx, backend, dbs)
	if err != nil {
		s.metrics.RecordGC(metrics.ResultError, 0, 0, time.Since(start).Seconds())
		return nil, err
	}

	if len(plan.Garbage) > 0 {
		if err := backend.Delete(ctx, plan.Garbage); err != nil {
			s.metrics.RecordGC(metrics.ResultError, 0, 0, time.Since(start).Seconds())
			return nil, fmt.Errorf("failed to delete garbage from %s: %w", backend.ID(), err)
		}
		s.snapshots.codec.cache.Evict(backend.ID(), plan.Garbage)
	}

	stats := &GCStats{
		Listed:   len(plan.Listed),
		Live:     len(plan.Listed) - len(plan.Garbage),
		Deleted:  len(plan.Garbage),
		Duration: time.Since(start),
	}
	s.metrics.RecordGC(metrics.ResultOK, stats.Live, stats.Deleted, stats.Duration.Seconds())
	s.logger.Info("Garbage collection completed",
		zap.String("store", backend.ID()),
		zap.Int("databases", len(dbs)),
		zap.Int("listed", stats.Listed),
		zap.Int("live", stats.Live),
		zap.Int("deleted", stats.Deleted),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// Plan runs the mark phase and diffs against the store without deleting.
func (s *GCService) Plan(ctx context.Context, backend store.NodeStore, dbs ...*database.DB) (*GCPlan, error) {
	unlock := s.snapshots.codec.lockStore(backend.ID())
	defer unlock()
	return s.plan(ctx, backend, dbs)
}

func (s *GCService) plan(ctx context.Context, backend store.NodeStore, dbs []*database.DB) (*GCPlan, error) {
	for _, db := range dbs {
		if bound := db.Backend(); bound != nil && bound.ID() != backend.ID() {
			return nil, storeerrors.StorageConflict(bound.ID(), backend.ID())
		}
	}

	live, err := s.mark(ctx, backend, dbs)
	if err != nil {
		return nil, err
	}

	listed, err := backend.ListAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %s: %w", backend.ID(), err)
	}
	plan := &GCPlan{Listed: listed, Live: live}
	for _, a := range listed {
		if _, ok := live[a]; !ok {
			plan.Garbage = append(plan.Garbage, a)
		}
	}
	slices.Sort(plan.Garbage)
	return plan, nil
}

// mark collects the reserved addresses and every address reachable from
// the stored snapshot and from dbs. Trees are walked concurrently.
func (s *GCService) mark(ctx context.Context, backend store.NodeStore, dbs []*database.DB) (map[model.Address]struct{}, error) {
	trees, err := s.storedTrees(ctx, backend)
	if err != nil {
		return nil, err
	}
	for _, db := range dbs {
		for _, idx := range model.Indexes {
			trees = append(trees, db.Index(idx))
		}
	}

	var mu sync.Mutex
	live := map[model.Address]struct{}{
		model.RootAddress: {},
		model.TailAddress: {},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, t := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var found []model.Address
			if err := t.Walk(backend.ID(), func(a model.Address) {
				found = append(found, a)
			}); err != nil {
				return fmt.Errorf("failed to mark reachable nodes: %w", err)
			}
			mu.Lock()
			for _, a := range found {
				live[a] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return live, nil
}

// storedTrees returns the index trees of the snapshot in backend, or none
// when the store holds no root yet. A root that exists but cannot be read
// aborts the collection.
func (s *GCService) storedTrees(ctx context.Context, backend store.NodeStore) ([]*tree.Tree, error) {
	root, err := s.snapshots.readRoot(ctx, backend)
	if storeerrors.GetCode(err) == storeerrors.ErrCodeCorruptRoot && storeerrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	trees, err := s.snapshots.restoreTrees(backend, root)
	if err != nil {
		return nil, err
	}
	return trees[:], nil
}
