package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend kinds accepted in storage.backend.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Config represents the complete configuration of the index store tools
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	File      FileConfig      `mapstructure:"file"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Tree      TreeConfig      `mapstructure:"tree"`
	Cache     CacheConfig     `mapstructure:"cache"`
	GC        GCConfig        `mapstructure:"gc"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	S3        S3Config        `mapstructure:"s3"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig selects the backend and the record codec
type StorageConfig struct {
	Backend     string        `mapstructure:"backend"`
	DataDir     string        `mapstructure:"data_dir"`
	Codec       string        `mapstructure:"codec"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

// FileConfig holds file backend settings
type FileConfig struct {
	Checksums          bool          `mapstructure:"checksums"`
	SyncWrites         bool          `mapstructure:"sync_writes"`
	Parallelism        int           `mapstructure:"parallelism"`
	BufferSize         int           `mapstructure:"buffer_size"`
	DiskGuard          bool          `mapstructure:"disk_guard"`
	DiskCheckInterval  time.Duration `mapstructure:"disk_check_interval"`
	DiskWarningPercent float64       `mapstructure:"disk_warning_percent"`
	DiskRejectPercent  float64       `mapstructure:"disk_reject_percent"`
}

// AllocatorConfig holds address allocator settings
type AllocatorConfig struct {
	Base uint64 `mapstructure:"base"`
}

// TreeConfig holds index tree settings
type TreeConfig struct {
	Branching int `mapstructure:"branching"`
}

// CacheConfig holds node cache configuration
type CacheConfig struct {
	MaxEntries      int           `mapstructure:"max_entries"`
	FrequencyWeight float64       `mapstructure:"frequency_weight"`
	RecencyWeight   float64       `mapstructure:"recency_weight"`
	AdaptiveWindow  time.Duration `mapstructure:"adaptive_window"`
}

// GCConfig holds garbage collection settings. Interval applies to serve
// mode only; zero disables periodic collection.
type GCConfig struct {
	Parallelism int           `mapstructure:"parallelism"`
	Interval    time.Duration `mapstructure:"interval"`
}

// RedisConfig represents Redis backend configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig represents PostgreSQL backend configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Table          string `mapstructure:"table"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// S3Config represents S3 backend configuration
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.DataDir == "" {
			return errors.New("storage.data_dir is required for the file backend")
		}
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Host == "" {
			return errors.New("redis.host is required for the redis backend")
		}
	case BackendPostgres:
		if c.Database.Host == "" {
			return errors.New("database.host is required for the postgres backend")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required for the postgres backend")
		}
		if c.Database.Table == "" {
			return errors.New("database.table is required for the postgres backend")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: file, memory, redis, postgres, s3; got %q", c.Storage.Backend)
	}
	switch c.Storage.Codec {
	case "json", "yaml", "cbor":
	default:
		return fmt.Errorf("storage.codec must be one of: json, yaml, cbor; got %q", c.Storage.Codec)
	}
	if c.Allocator.Base < 2 {
		return errors.New("allocator.base must be at least 2")
	}
	if c.Tree.Branching < 4 {
		return errors.New("tree.branching must be at least 4")
	}
	if c.File.DiskRejectPercent <= 0 || c.File.DiskRejectPercent > 100 {
		return errors.New("file.disk_reject_percent must be between 0 and 100")
	}
	if c.File.DiskWarningPercent > c.File.DiskRejectPercent {
		return errors.New("file.disk_warning_percent cannot exceed file.disk_reject_percent")
	}
	if c.GC.Parallelism <= 0 {
		return errors.New("gc.parallelism must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     BackendFile,
			DataDir:     "/var/lib/indexstore",
			Codec:       "json",
			LoadTimeout: 10 * time.Second,
		},
		File: FileConfig{
			Parallelism:        4,
			BufferSize:         64 << 10,
			DiskGuard:          true,
			DiskCheckInterval:  10 * time.Second,
			DiskWarningPercent: 85.0,
			DiskRejectPercent:  95.0,
		},
		Allocator: AllocatorConfig{
			Base: 2,
		},
		Tree: TreeConfig{
			Branching: 64,
		},
		Cache: CacheConfig{
			MaxEntries:      10000,
			FrequencyWeight: 0.5,
			RecencyWeight:   0.5,
			AdaptiveWindow:  time.Minute,
		},
		GC: GCConfig{
			Parallelism: 4,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "indexstore:",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "indexstore",
			User:           "indexstore",
			Table:          "index_records",
			MaxConnections: 10,
			MinConnections: 1,
		},
		S3: S3Config{
			Prefix: "indexstore/",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
