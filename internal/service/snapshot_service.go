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
	"github.com/devrev/pairdb/indexstore/internal/tree"
)

// SnapshotService writes and reads snapshots: the root record, the three
// index trees and the tail log.
type SnapshotService struct {
	codec   *NodeCodec
	dbOpts  *database.Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSnapshotService creates a snapshot service. dbOpts applies to restored
// databases.
func NewSnapshotService(codec *NodeCodec, dbOpts *database.Options, m *metrics.Metrics, logger *zap.Logger) *SnapshotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotService{
		codec:   codec,
		dbOpts:  dbOpts,
		metrics: m,
		logger:  logger,
	}
}

// Store persists db to backend, or to its bound store when backend is nil.
// Only nodes not yet stored in the backend are written, followed by a new
// root record and an empty tail. Nothing is written when db is already
// bound to the backend and holds no unstored node. On success db is bound
// to the backend.
func (s *SnapshotService) Store(ctx context.Context, db *database.DB, backend store.NodeStore) error {
	start := time.Now()
	bound := db.Backend()
	switch {
	case backend == nil && bound == nil:
		return storeerrors.NoStorageBound("store")
	case backend == nil:
		backend = bound
	case bound != nil && bound.ID() != backend.ID():
		return storeerrors.StorageConflict(bound.ID(), backend.ID())
	}

	unlock := s.codec.lockStore(backend.ID())
	defer unlock()

	if bound == nil {
		if err := s.advancePastExisting(ctx, backend); err != nil {
			s.metrics.RecordStore(metrics.ResultError, 0, time.Since(start).Seconds())
			return err
		}
	}

	batch := NewBatch()
	var roots [3]model.Address
	for _, idx := range model.Indexes {
		addr, err := s.codec.StoreTree(batch, db.Index(idx), backend.ID())
		if err != nil {
			s.metrics.RecordStore(metrics.ResultError, 0, time.Since(start).Seconds())
			return fmt.Errorf("failed to serialize %s index: %w", idx, err)
		}
		roots[idx] = addr
	}

	if batch.NodeCount() == 0 && bound != nil {
		s.metrics.RecordStore(metrics.ResultNoop, 0, time.Since(start).Seconds())
		s.logger.Debug("Snapshot unchanged, nothing to store", zap.String("store", backend.ID()))
		return nil
	}

	root := &model.RootRecord{
		Schema:    db.Schema(),
		EAVT:      roots[model.EAVT],
		AEVT:      roots[model.AEVT],
		AVET:      roots[model.AVET],
		MaxEid:    db.MaxEid(),
		MaxTx:     db.MaxTx(),
		MaxAddr:   s.codec.alloc.Current(),
		Branching: db.Branching(),
	}
	batch.Add(model.RootAddress, model.RootPayload(root))
	batch.Add(model.TailAddress, model.TailPayload(nil))

	if err := backend.Store(ctx, batch.Entries()); err != nil {
		s.metrics.RecordStore(metrics.ResultError, 0, time.Since(start).Seconds())
		return fmt.Errorf("failed to store snapshot to %s: %w", backend.ID(), err)
	}
	batch.commit(backend.ID())
	if err := db.Bind(backend); err != nil {
		return err
	}

	s.metrics.RecordStore(metrics.ResultWritten, batch.NodeCount(), time.Since(start).Seconds())
	s.logger.Info("Stored snapshot",
		zap.String("store", backend.ID()),
		zap.Int("nodes_written", batch.NodeCount()),
		zap.Stringer("eavt_root", root.EAVT),
		zap.Stringer("max_addr", root.MaxAddr),
		zap.Int64("max_tx", root.MaxTx),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// advancePastExisting keeps fresh addresses clear of a snapshot already in
// backend that this process never restored. An unreadable root hides which
// addresses are live, so nothing may be written over it.
func (s *SnapshotService) advancePastExisting(ctx context.Context, backend store.NodeStore) error {
	p, err := backend.Restore(ctx, model.RootAddress)
	switch {
	case storeerrors.IsNotFound(err):
		return nil
	case storeerrors.IsMalformed(err):
		return storeerrors.CorruptRoot(backend.ID(), model.RootAddress, err)
	case err != nil:
		return fmt.Errorf("failed to read existing root of %s: %w", backend.ID(), err)
	}
	if p.Root == nil {
		return storeerrors.CorruptRoot(backend.ID(), model.RootAddress,
			fmt.Errorf("expected a root record, found %s", p.Kind()))
	}
	s.codec.alloc.Advance(p.Root.MaxAddr)
	return nil
}

// AppendTail adds tx to the tail log of db's bound store. Only the tail
// record is rewritten.
func (s *SnapshotService) AppendTail(ctx context.Context, db *database.DB, tx []model.Tuple) error {
	backend := db.Backend()
	if backend == nil {
		return storeerrors.NoStorageBound("append_tail")
	}
	if err := db.ValidateTransaction(tx); err != nil {
		return err
	}

	unlock := s.codec.lockStore(backend.ID())
	defer unlock()

	tail, err := s.readTail(ctx, backend)
	if err != nil {
		s.metrics.RecordTailAppend(metrics.ResultError, 0)
		return err
	}
	tail = append(tail, tx)

	entry := store.Entry{Addr: model.TailAddress, Payload: model.TailPayload(tail)}
	if err := backend.Store(ctx, []store.Entry{entry}); err != nil {
		s.metrics.RecordTailAppend(metrics.ResultError, 0)
		return fmt.Errorf("failed to store tail to %s: %w", backend.ID(), err)
	}

	s.metrics.RecordTailAppend(metrics.ResultOK, len(tail))
	s.logger.Debug("Appended transaction to tail",
		zap.String("store", backend.ID()),
		zap.Int("tuples", len(tx)),
		zap.Int("tail_length", len(tail)))
	return nil
}

// readTail returns the stored tail. A missing tail reads as empty.
func (s *SnapshotService) readTail(ctx context.Context, backend store.NodeStore) ([][]model.Tuple, error) {
	p, err := backend.Restore(ctx, model.TailAddress)
	if storeerrors.IsNotFound(err) {
		return nil, nil
	}
	if storeerrors.IsMalformed(err) {
		return nil, storeerrors.CorruptRoot(backend.ID(), model.TailAddress, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tail of %s: %w", backend.ID(), err)
	}
	if p.Kind() != "tail" {
		return nil, storeerrors.CorruptRoot(backend.ID(), model.TailAddress,
			fmt.Errorf("expected a tail record, found %s", p.Kind()))
	}
	return *p.Tail, nil
}

// readRoot returns the stored root record, validated.
func (s *SnapshotService) readRoot(ctx context.Context, backend store.NodeStore) (*model.RootRecord, error) {
	p, err := backend.Restore(ctx, model.RootAddress)
	if storeerrors.IsNotFound(err) || storeerrors.IsMalformed(err) {
		return nil, storeerrors.CorruptRoot(backend.ID(), model.RootAddress, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read root of %s: %w", backend.ID(), err)
	}
	if p.Kind() != "root" {
		return nil, storeerrors.CorruptRoot(backend.ID(), model.RootAddress,
			fmt.Errorf("expected a root record, found %s", p.Kind()))
	}
	if err := p.Root.Validate(); err != nil {
		return nil, storeerrors.CorruptRoot(backend.ID(), model.RootAddress, err)
	}
	return p.Root, nil
}

// restoreTrees builds lazy trees over the index roots of root. The three
// root nodes are loaded so that a root record without its nodes fails here.
func (s *SnapshotService) restoreTrees(backend store.NodeStore, root *model.RootRecord) ([3]*tree.Tree, error) {
	var trees [3]*tree.Tree
	loader := s.codec.Loader(backend)
	for _, idx := range model.Indexes {
		ref := tree.Lazy(tree.Location{Owner: backend.ID(), Addr: root.IndexRoot(idx)}, loader)
		if _, err := ref.Node(); err != nil {
			return trees, fmt.Errorf("failed to load %s root: %w", idx, err)
		}
		trees[idx] = tree.FromRoot(ref, idx.Comparator(), root.Branching)
	}
	return trees, nil
}

// Restore reads the snapshot in backend. It returns the database bound to
// backend and the tail transactions not yet applied to it.
func (s *SnapshotService) Restore(ctx context.Context, backend store.NodeStore) (*database.DB, [][]model.Tuple, error) {
	root, err := s.readRoot(ctx, backend)
	if err != nil {
		s.metrics.RecordRestore(metrics.ResultError)
		return nil, nil, err
	}
	tail, err := s.readTail(ctx, backend)
	if err != nil {
		s.metrics.RecordRestore(metrics.ResultError)
		return nil, nil, err
	}

	s.codec.alloc.Advance(root.MaxAddr)

	trees, err := s.restoreTrees(backend, root)
	if err != nil {
		s.metrics.RecordRestore(metrics.ResultError)
		return nil, nil, err
	}

	db := database.Restored(root.Schema, trees, root.MaxEid, root.MaxTx, backend, s.dbOpts)
	s.metrics.RecordRestore(metrics.ResultOK)
	s.logger.Info("Restored snapshot",
		zap.String("store", backend.ID()),
		zap.Stringer("max_addr", root.MaxAddr),
		zap.Int64("max_tx", root.MaxTx),
		zap.Int("tail_length", len(tail)))
	return db, tail, nil
}

// RestoreAndReplay restores the snapshot in backend and applies its tail
// transactions in order. The result stays bound to backend; the replayed
// transactions remain in the stored tail until the next Store.
func (s *SnapshotService) RestoreAndReplay(ctx context.Context, backend store.NodeStore) (*database.DB, error) {
	db, tail, err := s.Restore(ctx, backend)
	if err != nil {
		return nil, err
	}
	for i, tx := range tail {
		if len(tx) == 0 {
			continue
		}
		if db, err = db.Transact(tx); err != nil {
			return nil, fmt.Errorf("failed to replay tail transaction %d: %w", i, err)
		}
	}
	return db, nil
}
