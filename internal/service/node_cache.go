package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/metrics"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/tree"
)

// NodeCache keeps decoded nodes by location. A stored address never changes
// content, so entries only leave through eviction or Evict after deletion.
type NodeCache struct {
	config          *NodeCacheConfig
	entries         map[tree.Location]*cacheEntry
	logger          *zap.Logger
	metrics         *metrics.Metrics
	mu              sync.Mutex
	frequencyWeight float64
	recencyWeight   float64
	lastAdjust      time.Time
}

// evictionSample bounds how many entries are scored per eviction. Map
// iteration order is randomized, so the sample is a random subset.
const evictionSample = 16

type cacheEntry struct {
	node        *tree.Node
	accessCount int64
	lastAccess  time.Time
}

// NodeCacheConfig holds cache configuration
type NodeCacheConfig struct {
	MaxEntries      int
	FrequencyWeight float64
	RecencyWeight   float64
	AdaptiveWindow  time.Duration
}

// DefaultNodeCacheConfig returns the default cache settings
func DefaultNodeCacheConfig() *NodeCacheConfig {
	return &NodeCacheConfig{
		MaxEntries:      10000,
		FrequencyWeight: 0.5,
		RecencyWeight:   0.5,
		AdaptiveWindow:  time.Minute,
	}
}

// NewNodeCache creates a cache. MaxEntries <= 0 disables caching.
func NewNodeCache(cfg *NodeCacheConfig, m *metrics.Metrics, logger *zap.Logger) *NodeCache {
	if cfg == nil {
		cfg = DefaultNodeCacheConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeCache{
		config:          cfg,
		entries:         make(map[tree.Location]*cacheEntry),
		logger:          logger,
		metrics:         m,
		frequencyWeight: cfg.FrequencyWeight,
		recencyWeight:   cfg.RecencyWeight,
	}
}

// Get returns the cached node at loc
func (c *NodeCache) Get(loc tree.Location) (*tree.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[loc]
	if !found {
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	entry.accessCount++
	entry.lastAccess = time.Now()
	c.metrics.RecordCacheHit()
	return entry.node, true
}

// Put caches node at loc, evicting the lowest scored entry when full
func (c *NodeCache) Put(loc tree.Location, node *tree.Node) {
	if c.config.MaxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, found := c.entries[loc]; found {
		existing.node = node
		existing.accessCount++
		existing.lastAccess = time.Now()
		return
	}

	if len(c.entries) >= c.config.MaxEntries {
		c.maybeAdjustWeights()
	}
	for len(c.entries) >= c.config.MaxEntries {
		c.evictLowestScore()
	}
	c.entries[loc] = &cacheEntry{node: node, accessCount: 1, lastAccess: time.Now()}
	c.metrics.UpdateCacheEntries(len(c.entries))
}

// Evict drops the given addresses of one store
func (c *NodeCache) Evict(owner string, addrs []model.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range addrs {
		delete(c.entries, tree.Location{Owner: owner, Addr: a})
	}
	c.metrics.UpdateCacheEntries(len(c.entries))
}

// score ranks entries for eviction, higher is better
func (c *NodeCache) score(entry *cacheEntry, now time.Time) float64 {
	frequencyScore := float64(entry.accessCount)
	recencyScore := now.Sub(entry.lastAccess).Seconds()
	return c.frequencyWeight*frequencyScore - c.recencyWeight*recencyScore
}

func (c *NodeCache) evictLowestScore() {
	now := time.Now()
	var (
		lowest      tree.Location
		lowestScore float64
		found       bool
	)
	sampled := 0
	for loc, entry := range c.entries {
		if s := c.score(entry, now); !found || s < lowestScore {
			lowest, lowestScore, found = loc, s, true
		}
		if sampled++; sampled >= evictionSample {
			break
		}
	}
	if !found {
		return
	}
	delete(c.entries, lowest)
	c.metrics.RecordCacheEviction()

	c.logger.Debug("Evicted cached node",
		zap.String("store", lowest.Owner),
		zap.Stringer("addr", lowest.Addr),
		zap.Float64("score", lowestScore))
}

// maybeAdjustWeights shifts between LRU and LFU behaviour based on how many
// entries were touched within the adaptive window. It runs at most once per
// window and never when the window is unset. Caller holds c.mu.
func (c *NodeCache) maybeAdjustWeights() {
	window := c.config.AdaptiveWindow
	now := time.Now()
	if window <= 0 || len(c.entries) == 0 || now.Sub(c.lastAdjust) < window {
		return
	}
	c.lastAdjust = now

	threshold := now.Add(-window)
	recent := 0
	for _, entry := range c.entries {
		if entry.lastAccess.After(threshold) {
			recent++
		}
	}
	hotnessRatio := float64(recent) / float64(len(c.entries))

	switch {
	case hotnessRatio > 0.7:
		c.recencyWeight, c.frequencyWeight = 0.7, 0.3
	case hotnessRatio < 0.3:
		c.recencyWeight, c.frequencyWeight = 0.3, 0.7
	default:
		c.recencyWeight, c.frequencyWeight = 0.5, 0.5
	}

	c.logger.Debug("Adjusted cache weights",
		zap.Float64("recency_weight", c.recencyWeight),
		zap.Float64("frequency_weight", c.frequencyWeight),
		zap.Float64("hotness_ratio", hotnessRatio))
}

// Stats returns cache statistics
func (c *NodeCache) Stats() NodeCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return NodeCacheStats{
		Entries:         len(c.entries),
		MaxEntries:      c.config.MaxEntries,
		FrequencyWeight: c.frequencyWeight,
		RecencyWeight:   c.recencyWeight,
	}
}

// NodeCacheStats holds cache statistics
type NodeCacheStats struct {
	Entries         int
	MaxEntries      int
	FrequencyWeight float64
	RecencyWeight   float64
}
