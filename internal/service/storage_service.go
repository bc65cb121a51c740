package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/database"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/metrics"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
)

// StorageService wires the allocator, node codec, snapshot service and
// collector that share one address space
type StorageService struct {
	allocator *AddressAllocator
	codec     *NodeCodec
	snapshots *SnapshotService
	gc        *GCService
	logger    *zap.Logger
}

// StorageServiceConfig holds the settings of the persistence layer
type StorageServiceConfig struct {
	AllocatorBase model.Address
	Branching     int
	Cache         *NodeCacheConfig
	LoadTimeout   time.Duration
	GCParallelism int
}

// NewStorageService creates a new storage service
func NewStorageService(cfg *StorageServiceConfig, m *metrics.Metrics, logger *zap.Logger) (*StorageService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Branching != 0 && cfg.Branching < 2 {
		return nil, storeerrors.InvalidArgument(fmt.Sprintf("branching factor must be at least 2, got %d", cfg.Branching), nil)
	}
	base := cfg.AllocatorBase
	if base == 0 {
		base = model.FirstNodeAddress
	}
	alloc, err := NewAddressAllocator(base)
	if err != nil {
		return nil, err
	}

	cache := NewNodeCache(cfg.Cache, m, logger)
	codec := NewNodeCodec(&NodeCodecConfig{LoadTimeout: cfg.LoadTimeout}, alloc, cache, m, logger)
	snapshots := NewSnapshotService(codec, &database.Options{Branching: cfg.Branching}, m, logger)

	return &StorageService{
		allocator: alloc,
		codec:     codec,
		snapshots: snapshots,
		gc:        NewGCService(snapshots, cfg.GCParallelism, m, logger),
		logger:    logger,
	}, nil
}

func (s *StorageService) Allocator() *AddressAllocator { return s.allocator }
func (s *StorageService) Codec() *NodeCodec { return s.codec }
func (s *StorageService) Snapshots() *SnapshotService { return s.snapshots }
func (s *StorageService) GC() *GCService { return s.gc }

// Store persists db. See SnapshotService.Store.
func (s *StorageService) Store(ctx context.Context, db *database.DB, backend store.NodeStore) error {
	return s.snapshots.Store(ctx, db, backend)
}

// AppendTail appends tx to db's tail log. See SnapshotService.AppendTail.
func (s *StorageService) AppendTail(ctx context.Context, db *database.DB, tx []model.Tuple) error {
	return s.snapshots.AppendTail(ctx, db, tx)
}

// Restore loads the snapshot in backend with its tail replayed.
func (s *StorageService) Restore(ctx context.Context, backend store.NodeStore) (*database.DB, error) {
	return s.snapshots.RestoreAndReplay(ctx, backend)
}

// Root reads and validates the snapshot root record of backend.
func (s *StorageService) Root(ctx context.Context, backend store.NodeStore) (*model.RootRecord, error) {
	return s.snapshots.readRoot(ctx, backend)
}

// Collect runs garbage collection. See GCService.Collect.
func (s *StorageService) Collect(ctx context.Context, backend store.NodeStore, dbs ...*database.DB) (*GCStats, error) {
	return s.gc.Collect(ctx, backend, dbs...)
}

// Inspection describes the snapshot held by a store
type Inspection struct {
	StoreID     string
	Root        *model.RootRecord
	TailLength  int
	TailTuples  int
	Addresses   int
	Reachable   int
	Garbage     []model.Address
	IndexCounts map[model.IndexType]int
}

// Inspect reads the snapshot in backend and reports what a collection
// would remove. Every node is loaded to count the tuples of each index.
func (s *StorageService) Inspect(ctx context.Context, backend store.NodeStore) (*Inspection, error) {
	db, tail, err := s.snapshots.Restore(ctx, backend)
	if err != nil {
		return nil, err
	}
	root, err := s.snapshots.readRoot(ctx, backend)
	if err != nil {
		return nil, err
	}
	plan, err := s.gc.Plan(ctx, backend)
	if err != nil {
		return nil, err
	}

	insp := &Inspection{
		StoreID:     backend.ID(),
		Root:        root,
		TailLength:  len(tail),
		Addresses:   len(plan.Listed),
		Reachable:   len(plan.Listed) - len(plan.Garbage),
		Garbage:     plan.Garbage,
		IndexCounts: make(map[model.IndexType]int, len(model.Indexes)),
	}
	for _, tx := range tail {
		insp.TailTuples += len(tx)
	}
	for _, idx := range model.Indexes {
		n, err := db.Index(idx).Len()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s index: %w", idx, err)
		}
		insp.IndexCounts[idx] = n
	}
	return insp, nil
}
