package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	"github.com/devrev/pairdb/indexstore/internal/config"
	"github.com/devrev/pairdb/indexstore/internal/storage/diskmanager"
	"github.com/devrev/pairdb/indexstore/internal/store"
)

// openedBackend is a configured store plus what the caller must release.
type openedBackend struct {
	store store.NodeStore
	disk  *diskmanager.DiskManager
	close func()
}

// openBackend builds the store selected by storage.backend.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*openedBackend, error) {
	c, err := codec.ByName(cfg.Storage.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Storage.Backend {
	case config.BackendFile:
		var disk *diskmanager.DiskManager
		if cfg.File.DiskGuard {
			disk, err = diskmanager.NewDiskManager(&diskmanager.Config{
				DataDir:          cfg.Storage.DataDir,
				CheckInterval:    cfg.File.DiskCheckInterval,
				WarningThreshold: cfg.File.DiskWarningPercent,
				RejectThreshold:  cfg.File.DiskRejectPercent,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create disk manager: %w", err)
			}
		}
		fs, err := store.NewFileStore(store.FileStoreConfig{
			Dir:         cfg.Storage.DataDir,
			Write:       codec.Writer(c),
			Read:        codec.Reader(c),
			Checksums:   cfg.File.Checksums,
			SyncWrites:  cfg.File.SyncWrites,
			Parallelism: cfg.File.Parallelism,
			BufferSize:  cfg.File.BufferSize,
			DiskManager: disk,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &openedBackend{store: fs, disk: disk, close: func() { fs.Close() }}, nil

	case config.BackendMemory:
		return &openedBackend{store: store.NewMemoryStore(c), close: func() {}}, nil

	case config.BackendRedis:
		rs, err := store.NewRedisStore(store.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, c, logger)
		if err != nil {
			return nil, err
		}
		return &openedBackend{store: rs, close: func() { rs.Close() }}, nil

	case config.BackendPostgres:
		ps, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			MaxConns: cfg.Database.MaxConnections,
			MinConns: cfg.Database.MinConnections,
			Table:    cfg.Database.Table,
		}, c, logger)
		if err != nil {
			return nil, err
		}
		return &openedBackend{store: ps, close: ps.Close}, nil

	case config.BackendS3:
		s3s, err := store.NewS3Store(store.S3Config{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		}, c, logger)
		if err != nil {
			return nil, err
		}
		return &openedBackend{store: s3s, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Storage.Backend)
}
