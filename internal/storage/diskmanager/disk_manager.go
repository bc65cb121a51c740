package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
)

// DiskManager checks free space under a store directory before writes
type DiskManager struct {
	dataDir          string
	logger           *zap.Logger
	checkInterval    time.Duration
	warningThreshold float64
	rejectThreshold  float64
	statfs           func(path string) (total, available uint64, err error)

	mu             sync.Mutex
	lastCheck      time.Time
	usagePercent   float64
	availableBytes uint64
}

// Config holds configuration for disk manager
type Config struct {
	DataDir          string
	CheckInterval    time.Duration
	WarningThreshold float64
	RejectThreshold  float64
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:          dataDir,
		CheckInterval:    10 * time.Second,
		WarningThreshold: 85.0,
		RejectThreshold:  95.0,
	}
}

// NewDiskManager creates a disk manager for cfg.DataDir
func NewDiskManager(cfg *Config, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.RejectThreshold <= 0 || cfg.RejectThreshold > 100 {
		return nil, fmt.Errorf("reject threshold must be in (0, 100], got %.2f", cfg.RejectThreshold)
	}
	return &DiskManager{
		dataDir:          cfg.DataDir,
		logger:           logger,
		checkInterval:    cfg.CheckInterval,
		warningThreshold: cfg.WarningThreshold,
		rejectThreshold:  cfg.RejectThreshold,
		statfs:           statfs,
	}, nil
}

func statfs(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return stat.Blocks * uint64(stat.Bsize), stat.Bavail * uint64(stat.Bsize), nil
}

// CheckBeforeWrite rejects a write of estimatedBytes when the filesystem is
// above the reject threshold or cannot hold it
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.refresh(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
			return nil
		}
	}

	if dm.usagePercent >= dm.rejectThreshold || estimatedBytes > dm.availableBytes {
		return storeerrors.DiskFull(dm.usagePercent, dm.availableBytes).
			WithDetail("requested_bytes", estimatedBytes)
	}
	return nil
}

// refresh must be called with mu held
func (dm *DiskManager) refresh() error {
	total, available, err := dm.statfs(dm.dataDir)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("filesystem at %s reports zero size", dm.dataDir)
	}

	dm.usagePercent = float64(total-available) / float64(total) * 100.0
	dm.availableBytes = available
	dm.lastCheck = time.Now()

	if dm.usagePercent >= dm.warningThreshold {
		dm.logger.Warn("Disk usage warning",
			zap.String("dir", dm.dataDir),
			zap.Float64("usage_percent", dm.usagePercent),
			zap.Uint64("available_bytes", available),
			zap.Float64("warning_threshold", dm.warningThreshold))
	}
	return nil
}

// Usage returns the last observed usage, refreshing it first
func (dm *DiskManager) Usage() (usagePercent float64, availableBytes uint64, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.refresh(); err != nil {
		return 0, 0, err
	}
	return dm.usagePercent, dm.availableBytes, nil
}
