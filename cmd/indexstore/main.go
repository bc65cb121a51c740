package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/pairdb/indexstore/internal/config"
	"github.com/devrev/pairdb/indexstore/internal/health"
	"github.com/devrev/pairdb/indexstore/internal/metrics"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/server"
	"github.com/devrev/pairdb/indexstore/internal/service"
	"github.com/devrev/pairdb/indexstore/internal/store"
)

const usage = `usage: indexstore <command> [flags]

commands:
  inspect      print the stored snapshot and what a collection would remove
  checkpoint   fold the tail log into a new snapshot
  gc           delete addresses unreachable from the stored snapshot
  serve        expose metrics and health probes, collecting every gc.interval

Configuration is read from CONFIG_PATH (default ./config.yaml).
gc and serve assume no other process is writing to the store.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open backend", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer backend.close()

	svc, err := newService(cfg, m, logger)
	if err != nil {
		logger.Fatal("Failed to create storage service", zap.Error(err))
	}

	logger.Info("Backend opened",
		zap.String("command", command),
		zap.String("store", backend.store.ID()),
		zap.String("codec", cfg.Storage.Codec))

	switch command {
	case "inspect":
		err = runInspect(ctx, svc, backend.store, os.Stdout)
	case "checkpoint":
		err = runCheckpoint(ctx, svc, backend.store)
	case "gc":
		err = runGC(ctx, svc, backend.store, args, os.Stdout)
	case "serve":
		err = runServe(ctx, cfg, svc, backend, registry, m, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		backend.close()
		os.Exit(1)
	}
}

// newService builds the storage service from cfg
func newService(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*service.StorageService, error) {
	return service.NewStorageService(&service.StorageServiceConfig{
		AllocatorBase: model.Address(cfg.Allocator.Base),
		Branching:     cfg.Tree.Branching,
		Cache: &service.NodeCacheConfig{
			MaxEntries:      cfg.Cache.MaxEntries,
			FrequencyWeight: cfg.Cache.FrequencyWeight,
			RecencyWeight:   cfg.Cache.RecencyWeight,
			AdaptiveWindow:  cfg.Cache.AdaptiveWindow,
		},
		LoadTimeout:   cfg.Storage.LoadTimeout,
		GCParallelism: cfg.GC.Parallelism,
	}, m, logger)
}

// inspectReport is the printed form of service.Inspection
type inspectReport struct {
	Store       string            `json:"store"`
	Root        *model.RootRecord `json:"root"`
	TailLength  int               `json:"tail_length"`
	TailTuples  int               `json:"tail_tuples"`
	Addresses   int               `json:"addresses"`
	Reachable   int               `json:"reachable"`
	Garbage     int               `json:"garbage"`
	IndexCounts map[string]int    `json:"index_counts"`
}

func runInspect(ctx context.Context, svc *service.StorageService, backend store.NodeStore, out io.Writer) error {
	insp, err := svc.Inspect(ctx, backend)
	if err != nil {
		return err
	}
	report := inspectReport{
		Store:       insp.StoreID,
		Root:        insp.Root,
		TailLength:  insp.TailLength,
		TailTuples:  insp.TailTuples,
		Addresses:   insp.Addresses,
		Reachable:   insp.Reachable,
		Garbage:     len(insp.Garbage),
		IndexCounts: make(map[string]int, len(insp.IndexCounts)),
	}
	for idx, n := range insp.IndexCounts {
		report.IndexCounts[idx.String()] = n
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runCheckpoint(ctx context.Context, svc *service.StorageService, backend store.NodeStore) error {
	db, err := svc.Restore(ctx, backend)
	if err != nil {
		return err
	}
	return svc.Store(ctx, db, nil)
}

func runGC(ctx context.Context, svc *service.StorageService, backend store.NodeStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gc", flag.ContinueOnError)
	fs.SetOutput(out)
	dryRun := fs.Bool("dry-run", false, "report garbage without deleting it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dryRun {
		plan, err := svc.GC().Plan(ctx, backend)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "listed=%d live=%d garbage=%d\n", len(plan.Listed), len(plan.Listed)-len(plan.Garbage), len(plan.Garbage))
		for _, a := range plan.Garbage {
			fmt.Fprintln(out, a)
		}
		return nil
	}

	stats, err := svc.Collect(ctx, backend)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "listed=%d live=%d deleted=%d duration=%s\n", stats.Listed, stats.Live, stats.Deleted, stats.Duration)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, svc *service.StorageService, backend *openedBackend,
	registry *prometheus.Registry, m *metrics.Metrics, logger *zap.Logger) error {
	probe := func(ctx context.Context) error {
		_, err := svc.Root(ctx, backend.store)
		return err
	}
	var disk health.DiskUsage
	if backend.disk != nil {
		disk = backend.disk
	}
	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		StoreID:            backend.store.ID(),
		DiskWarningPercent: cfg.File.DiskWarningPercent,
		DiskRejectPercent:  cfg.File.DiskRejectPercent,
	}, probe, disk, m, logger)
	go checker.Start(ctx)

	if cfg.Metrics.Enabled {
		srv := server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, registry, checker, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	var tick <-chan time.Time
	if cfg.GC.Interval > 0 {
		ticker := time.NewTicker(cfg.GC.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down gracefully...")
			checker.SetReadiness(false)
			return nil
		case <-tick:
			if _, err := svc.Collect(ctx, backend.store); err != nil {
				logger.Error("Periodic garbage collection failed", zap.Error(err))
			}
		}
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
