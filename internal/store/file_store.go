package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/storage/diskmanager"
	"github.com/devrev/pairdb/indexstore/internal/util"
	"github.com/devrev/pairdb/indexstore/internal/util/workerpool"
)

// Rough per-record size used for the free-space check.
const estimatedRecordSize = 4 << 10

// FileStoreConfig configures a FileStore. Zero values select the defaults.
type FileStoreConfig struct {
	Dir         string
	FormatAddr  func(model.Address) string
	ParseAddr   func(name string) (model.Address, bool)
	Write       codec.WriteFunc
	Read        codec.ReadFunc
	Checksums   bool
	SyncWrites  bool
	Parallelism int
	BufferSize  int
	DiskManager *diskmanager.DiskManager
}

// FileStore keeps one file per address in a directory.
type FileStore struct {
	id     string
	cfg    FileStoreConfig
	pool   *workerpool.WorkerPool
	logger *zap.Logger
}

// FormatAddr is the default file name for an address: at least eight
// lowercase hex digits.
func FormatAddr(a model.Address) string {
	return fmt.Sprintf("%08x", uint64(a))
}

// ParseAddr accepts only names FormatAddr produces.
func ParseAddr(name string) (model.Address, bool) {
	v, err := strconv.ParseUint(name, 16, 64)
	if err != nil {
		return 0, false
	}
	a := model.Address(v)
	if FormatAddr(a) != name {
		return 0, false
	}
	return a, true
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(cfg FileStoreConfig, logger *zap.Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, storeerrors.InvalidArgument("file store directory is required", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FormatAddr == nil {
		cfg.FormatAddr = FormatAddr
	}
	if cfg.ParseAddr == nil {
		cfg.ParseAddr = ParseAddr
	}
	if cfg.Write == nil {
		cfg.Write = codec.Writer(codec.JSON())
	}
	if cfg.Read == nil {
		cfg.Read = codec.Reader(codec.JSON())
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 << 10
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	cfg.Dir = dir

	s := &FileStore{
		id:     "file:" + dir,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.Parallelism > 1 {
		s.pool = workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "file-store-writer",
			MaxWorkers: cfg.Parallelism,
			Logger:     logger,
		})
	}
	return s, nil
}

func (s *FileStore) ID() string { return s.id }

// Dir returns the absolute store directory.
func (s *FileStore) Dir() string { return s.cfg.Dir }

// Close stops the writer pool.
func (s *FileStore) Close() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Stop(5 * time.Second)
}

func (s *FileStore) path(a model.Address) string {
	return filepath.Join(s.cfg.Dir, s.cfg.FormatAddr(a))
}

// Store writes node records first, in parallel when configured, then the
// reserved records in order.
func (s *FileStore) Store(ctx context.Context, entries []Entry) error {
	if s.cfg.DiskManager != nil {
		if err := s.cfg.DiskManager.CheckBeforeWrite(uint64(len(entries)) * estimatedRecordSize); err != nil {
			return err
		}
	}

	var nodes, reserved []Entry
	for _, e := range entries {
		if e.Addr.IsReserved() {
			reserved = append(reserved, e)
		} else {
			nodes = append(nodes, e)
		}
	}

	if err := s.writeNodes(ctx, nodes); err != nil {
		return err
	}
	for _, e := range reserved {
		if err := s.writeFile(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeNodes(ctx context.Context, nodes []Entry) error {
	if s.pool == nil || len(nodes) < 2 {
		for _, e := range nodes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.writeFile(e); err != nil {
				return err
			}
		}
		return nil
	}

	tasks := make([]workerpool.Task, len(nodes))
	for i, e := range nodes {
		tasks[i] = workerpool.Task{
			ID: e.Addr.String(),
			Fn: func(context.Context) error { return s.writeFile(e) },
		}
	}
	return s.pool.Run(ctx, tasks)
}

// writeFile writes through a temporary file renamed into place, so a
// reader never sees a partial record.
func (s *FileStore) writeFile(e Entry) error {
	target := s.path(e.Addr)
	f, err := os.CreateTemp(s.cfg.Dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := bufio.NewWriterSize(f, s.cfg.BufferSize)
	if err := s.encode(w, e.Payload); err != nil {
		return storeerrors.InternalError("failed to encode payload", err).WithDetail("address", e.Addr)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if s.cfg.SyncWrites {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", target, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to rename %s: %w", target, err)
	}
	committed = true
	return nil
}

func (s *FileStore) encode(w io.Writer, p *model.Payload) error {
	if !s.cfg.Checksums {
		return s.cfg.Write(w, p)
	}
	var buf bytes.Buffer
	if err := s.cfg.Write(&buf, p); err != nil {
		return err
	}
	_, err := w.Write(util.AppendChecksum(buf.Bytes()))
	return err
}

func (s *FileStore) Restore(ctx context.Context, addr model.Address) (*model.Payload, error) {
	f, err := os.Open(s.path(addr))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeerrors.NotFound(s.id, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path(addr), err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, s.cfg.BufferSize)
	if s.cfg.Checksums {
		framed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.path(addr), err)
		}
		data, err := util.StripChecksum(framed)
		if err != nil {
			return nil, storeerrors.Malformed(s.id, addr, err)
		}
		r = bytes.NewReader(data)
	}

	p, err := s.cfg.Read(r)
	if err != nil {
		return nil, storeerrors.Malformed(s.id, addr, err)
	}
	return p, nil
}

// ListAddresses returns the addresses of every file whose name ParseAddr
// accepts. Temporary and foreign files are skipped.
func (s *FileStore) ListAddresses(ctx context.Context) ([]model.Address, error) {
	dirEntries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.cfg.Dir, err)
	}
	addrs := make([]model.Address, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		if a, ok := s.cfg.ParseAddr(de.Name()); ok {
			addrs = append(addrs, a)
		}
	}
	slices.Sort(addrs)
	return addrs, nil
}

func (s *FileStore) Delete(ctx context.Context, addrs []model.Address) error {
	for _, a := range addrs {
		if err := os.Remove(s.path(a)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", s.path(a), err)
		}
	}
	if len(addrs) > 0 {
		s.logger.Debug("Deleted records", zap.String("store", s.id), zap.Int("count", len(addrs)))
	}
	return nil
}
