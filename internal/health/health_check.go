package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/metrics"
)

// Status is the overall state of the store as seen by the checker
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check result states
const (
	CheckHealthy  = "healthy"
	CheckWarning  = "warning"
	CheckCritical = "critical"
)

// Probe reads the snapshot root of the store. A NotFound error means the
// store is empty, which is not a failure.
type Probe func(ctx context.Context) error

// DiskUsage reports filesystem usage of the store directory
type DiskUsage interface {
	Usage() (usagePercent float64, availableBytes uint64, err error)
}

// HealthChecker periodically checks one store
type HealthChecker struct {
	storeID          string
	probe            Probe
	disk             DiskUsage
	interval         time.Duration
	probeTimeout     time.Duration
	warningThreshold float64
	rejectThreshold  float64
	metrics          *metrics.Metrics
	logger           *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      Status
	checks      map[string]CheckResult
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	StoreID            string
	Interval           time.Duration
	ProbeTimeout       time.Duration
	DiskWarningPercent float64
	DiskRejectPercent  float64
}

// NewHealthChecker creates a checker. disk may be nil for stores that do
// not live on a local filesystem.
func NewHealthChecker(cfg *HealthCheckConfig, probe Probe, disk DiskUsage, m *metrics.Metrics, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &HealthChecker{
		storeID:          cfg.StoreID,
		probe:            probe,
		disk:             disk,
		interval:         interval,
		probeTimeout:     probeTimeout,
		warningThreshold: cfg.DiskWarningPercent,
		rejectThreshold:  cfg.DiskRejectPercent,
		metrics:          m,
		logger:           logger,
		checks:           make(map[string]CheckResult),
		status:           StatusHealthy,
		readinessOK:      true,
	}
}

// Start runs checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the overall status
func (h *HealthChecker) RunChecks(ctx context.Context) {
	results := []CheckResult{h.checkSnapshotRoot(ctx), h.checkFileDescriptors()}
	if h.disk != nil {
		results = append(results, h.checkDiskSpace())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	allHealthy, allReady := true, true
	for _, result := range results {
		h.checks[result.Name] = result
		if result.Status != CheckHealthy {
			allHealthy = false
			if result.Status == CheckCritical {
				allReady = false
			}
		}
	}

	switch {
	case allHealthy:
		h.status = StatusHealthy
	case allReady:
		h.status = StatusDegraded
	default:
		h.status = StatusUnhealthy
	}
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("store", h.storeID),
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

func (h *HealthChecker) checkSnapshotRoot(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	result := CheckResult{Name: "snapshot_root", Timestamp: time.Now()}
	err := h.probe(ctx)
	switch {
	case err == nil:
		result.Status = CheckHealthy
		result.Message = "Snapshot root is readable"
	case storeerrors.IsNotFound(err):
		result.Status = CheckWarning
		result.Message = "Store holds no snapshot yet"
	default:
		result.Status = CheckCritical
		result.Message = fmt.Sprintf("Snapshot root unreadable: %v", err)
	}
	return result
}

func (h *HealthChecker) checkDiskSpace() CheckResult {
	result := CheckResult{Name: "disk_space", Timestamp: time.Now()}
	usagePercent, available, err := h.disk.Usage()
	if err != nil {
		result.Status = CheckCritical
		result.Message = fmt.Sprintf("Failed to stat filesystem: %v", err)
		return result
	}
	h.metrics.UpdateDiskStats(usagePercent, available)

	switch {
	case usagePercent >= h.rejectThreshold:
		result.Status = CheckCritical
		result.Message = fmt.Sprintf("Disk usage critical: %.2f%%", usagePercent)
	case usagePercent >= h.warningThreshold:
		result.Status = CheckWarning
		result.Message = fmt.Sprintf("Disk usage high: %.2f%%", usagePercent)
	default:
		result.Status = CheckHealthy
		result.Message = fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", usagePercent, float64(available)/1024/1024/1024)
	}
	return result
}

// checkFileDescriptors warns when open descriptors near the soft limit.
// Platforms without /proc report healthy.
func (h *HealthChecker) checkFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Status: CheckHealthy, Timestamp: time.Now()}

	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		result.Status = CheckWarning
		result.Message = fmt.Sprintf("Failed to get rlimit: %v", err)
		return result
	}
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil || rlimit.Cur == 0 {
		result.Message = fmt.Sprintf("Soft limit: %d, hard limit: %d", rlimit.Cur, rlimit.Max)
		return result
	}

	openFDs := uint64(len(entries))
	usagePercent := float64(openFDs) / float64(rlimit.Cur) * 100
	if usagePercent > 90 {
		result.Status = CheckWarning
		result.Message = fmt.Sprintf("File descriptor usage high: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur)
		return result
	}
	result.Message = fmt.Sprintf("File descriptor usage: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur)
	return result
}

// IsReady returns whether no check is critical
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current overall status
func (h *HealthChecker) GetStatus() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler answers as long as the process serves requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": true,
		"store":   h.storeID,
		"status":  h.GetStatus(),
	})
}

// ReadinessHandler reports readiness along with every check result
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  ready,
		"store":  h.storeID,
		"status": h.GetStatus(),
		"checks": h.GetChecks(),
	})
}
