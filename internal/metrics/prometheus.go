package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "indexstore"

// Result label values.
const (
	ResultWritten = "written"
	ResultNoop    = "noop"
	ResultOK      = "ok"
	ResultError   = "error"
)

// Metrics holds the Prometheus metrics of the persistence layer. A nil
// *Metrics records nothing.
type Metrics struct {
	// Snapshot metrics
	StoreCallsTotal   *prometheus.CounterVec
	StoreDuration     prometheus.Histogram
	NodesWrittenTotal prometheus.Counter
	TailAppendsTotal  *prometheus.CounterVec
	TailLength        prometheus.Gauge

	// Restore metrics
	RestoreCallsTotal *prometheus.CounterVec
	NodeLoadsTotal    *prometheus.CounterVec
	NodeLoadDuration  prometheus.Histogram

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEntries        prometheus.Gauge

	// GC metrics
	GCRunsTotal             *prometheus.CounterVec
	GCDuration              prometheus.Histogram
	GCLiveAddresses         prometheus.Gauge
	GCAddressesDeletedTotal prometheus.Counter

	// Disk metrics
	DiskUsagePercent   prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		StoreCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "store_calls_total",
			Help:      "Total number of snapshot store calls by result",
		}, []string{"result"}),
		StoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "store_duration_seconds",
			Help:      "Histogram of snapshot store durations",
			Buckets:   prometheus.DefBuckets,
		}),
		NodesWrittenTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "nodes_written_total",
			Help:      "Total number of tree nodes written",
		}),
		TailAppendsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "tail_appends_total",
			Help:      "Total number of transactions appended to the tail log by result",
		}, []string{"result"}),
		TailLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "tail_length",
			Help:      "Number of transactions in the last written tail log",
		}),

		RestoreCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "calls_total",
			Help:      "Total number of restore calls by result",
		}, []string{"result"}),
		NodeLoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "node_loads_total",
			Help:      "Total number of nodes loaded from storage by result",
		}, []string{"result"}),
		NodeLoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "node_load_duration_seconds",
			Help:      "Histogram of node load durations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), // 100us to ~1.6s
		}),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of node cache hits",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of node cache misses",
		}),
		CacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of node cache evictions",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of nodes in the cache",
		}),

		GCRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Total number of garbage collections by result",
		}, []string{"result"}),
		GCDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "duration_seconds",
			Help:      "Histogram of garbage collection durations",
			Buckets:   prometheus.DefBuckets,
		}),
		GCLiveAddresses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "live_addresses",
			Help:      "Number of addresses marked live by the last collection",
		}),
		GCAddressesDeletedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "addresses_deleted_total",
			Help:      "Total number of addresses deleted by garbage collection",
		}),

		DiskUsagePercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disk",
			Name:      "usage_percent",
			Help:      "Disk usage of the file store directory",
		}),
		DiskAvailableBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disk",
			Name:      "available_bytes",
			Help:      "Free bytes on the file store volume",
		}),
	}
}

// RecordStore records one snapshot store call
func (m *Metrics) RecordStore(result string, nodes int, duration float64) {
	if m == nil {
		return
	}
	m.StoreCallsTotal.WithLabelValues(result).Inc()
	m.StoreDuration.Observe(duration)
	m.NodesWrittenTotal.Add(float64(nodes))
}

// RecordTailAppend records one tail append and the resulting tail length
func (m *Metrics) RecordTailAppend(result string, length int) {
	if m == nil {
		return
	}
	m.TailAppendsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.TailLength.Set(float64(length))
	}
}

// RecordRestore records one restore call
func (m *Metrics) RecordRestore(result string) {
	if m == nil {
		return
	}
	m.RestoreCallsTotal.WithLabelValues(result).Inc()
}

// RecordNodeLoad records a node read from storage
func (m *Metrics) RecordNodeLoad(result string, duration float64) {
	if m == nil {
		return
	}
	m.NodeLoadsTotal.WithLabelValues(result).Inc()
	m.NodeLoadDuration.Observe(duration)
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.Inc()
}

// UpdateCacheEntries sets the cache entry gauge
func (m *Metrics) UpdateCacheEntries(entries int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(entries))
}

// RecordGC records a garbage collection
func (m *Metrics) RecordGC(result string, live, deleted int, duration float64) {
	if m == nil {
		return
	}
	m.GCRunsTotal.WithLabelValues(result).Inc()
	m.GCDuration.Observe(duration)
	if result == ResultOK {
		m.GCLiveAddresses.Set(float64(live))
		m.GCAddressesDeletedTotal.Add(float64(deleted))
	}
}

// UpdateDiskStats updates disk gauges
func (m *Metrics) UpdateDiskStats(usagePercent float64, availableBytes uint64) {
	if m == nil {
		return
	}
	m.DiskUsagePercent.Set(usagePercent)
	m.DiskAvailableBytes.Set(float64(availableBytes))
}
