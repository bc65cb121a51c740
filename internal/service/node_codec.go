package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/metrics"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
	"github.com/devrev/pairdb/indexstore/internal/tree"
)

// Batch accumulates the records of one store call. It is created per call
// and never shared.
type Batch struct {
	entries []store.Entry
	nodes   int
	pending map[*tree.Node]model.Address
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{pending: make(map[*tree.Node]model.Address)}
}

// Add appends one record.
func (b *Batch) Add(addr model.Address, p *model.Payload) {
	b.entries = append(b.entries, store.Entry{Addr: addr, Payload: p})
	if p.Node != nil {
		b.nodes++
	}
}

func (b *Batch) Entries() []store.Entry { return b.entries }
func (b *Batch) Len() int { return len(b.entries) }

// NodeCount is the number of node records in the batch.
func (b *Batch) NodeCount() int { return b.nodes }

// commit records the locations of the batch's nodes once the batch is
// durable in owner.
func (b *Batch) commit(owner string) {
	for n, addr := range b.pending {
		n.SetLocation(tree.Location{Owner: owner, Addr: addr})
	}
}

// NodeCodec converts tree nodes to records and back. It also serializes
// writers and collectors of the same store.
type NodeCodec struct {
	alloc       *AddressAllocator
	cache       *NodeCache
	metrics     *metrics.Metrics
	logger      *zap.Logger
	loadTimeout time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NodeCodecConfig holds node codec configuration
type NodeCodecConfig struct {
	// LoadTimeout bounds each node read. Zero means no limit.
	LoadTimeout time.Duration
}

// NewNodeCodec creates a node codec. cache may be nil.
func NewNodeCodec(cfg *NodeCodecConfig, alloc *AddressAllocator, cache *NodeCache, m *metrics.Metrics, logger *zap.Logger) *NodeCodec {
	if cfg == nil {
		cfg = &NodeCodecConfig{}
	}
	if cache == nil {
		cache = NewNodeCache(&NodeCacheConfig{}, m, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeCodec{
		alloc:       alloc,
		cache:       cache,
		metrics:     m,
		logger:      logger,
		loadTimeout: cfg.LoadTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Allocator returns the address allocator the codec assigns from.
func (c *NodeCodec) Allocator() *AddressAllocator { return c.alloc }

// Cache returns the decoded node cache.
func (c *NodeCodec) Cache() *NodeCache { return c.cache }

// lockStore serializes writers and collectors of one store.
func (c *NodeCodec) lockStore(id string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[id] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// StoreTree serializes, children first, every node of t that is not yet
// stored in owner and returns the address of the root. Stored subtrees are
// referenced by their existing address and not visited.
func (c *NodeCodec) StoreTree(b *Batch, t *tree.Tree, owner string) (model.Address, error) {
	return c.storeRef(b, t.Root(), owner)
}

func (c *NodeCodec) storeRef(b *Batch, ref *tree.Ref, owner string) (model.Address, error) {
	if addr, ok := ref.Location(owner); ok {
		return addr, nil
	}
	n, err := ref.Node()
	if err != nil {
		return 0, err
	}
	if addr, ok := b.pending[n]; ok {
		return addr, nil
	}

	record := &model.NodeRecord{Level: n.Level(), Keys: n.Keys()}
	if !n.IsLeaf() {
		record.Addresses = make([]model.Address, 0, len(n.Children()))
		for _, child := range n.Children() {
			addr, err := c.storeRef(b, child, owner)
			if err != nil {
				return 0, err
			}
			record.Addresses = append(record.Addresses, addr)
		}
	}

	addr := c.alloc.Next()
	b.Add(addr, model.NodePayload(record))
	b.pending[n] = addr
	return addr, nil
}

// Loader returns a tree.Loader reading nodes of backend.
func (c *NodeCodec) Loader(backend store.NodeStore) tree.Loader {
	return &nodeLoader{codec: c, backend: backend}
}

type nodeLoader struct {
	codec   *NodeCodec
	backend store.NodeStore
}

func (l *nodeLoader) Load(addr model.Address) (*tree.Node, error) {
	return l.codec.load(l.backend, l, addr)
}

func (c *NodeCodec) load(backend store.NodeStore, loader tree.Loader, addr model.Address) (*tree.Node, error) {
	loc := tree.Location{Owner: backend.ID(), Addr: addr}
	if n, ok := c.cache.Get(loc); ok {
		return n, nil
	}

	ctx := context.Background()
	if c.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.loadTimeout)
		defer cancel()
	}

	start := time.Now()
	p, err := backend.Restore(ctx, addr)
	if err != nil {
		c.metrics.RecordNodeLoad(metrics.ResultError, time.Since(start).Seconds())
		if storeerrors.IsNotFound(err) || storeerrors.IsMalformed(err) {
			return nil, storeerrors.CorruptNode(backend.ID(), addr, err)
		}
		return nil, fmt.Errorf("failed to load node %s from %s: %w", addr, backend.ID(), err)
	}

	n, err := decodeNode(p, loc, loader)
	if err != nil {
		c.metrics.RecordNodeLoad(metrics.ResultError, time.Since(start).Seconds())
		return nil, storeerrors.CorruptNode(backend.ID(), addr, err)
	}
	c.metrics.RecordNodeLoad(metrics.ResultOK, time.Since(start).Seconds())

	n.SetLocation(loc)
	c.cache.Put(loc, n)
	return n, nil
}

// decodeNode rebuilds a node from its record. Children of a branch become
// lazy refs into the same store.
func decodeNode(p *model.Payload, loc tree.Location, loader tree.Loader) (*tree.Node, error) {
	if p.Kind() != "node" {
		return nil, fmt.Errorf("expected a node record, found %s", p.Kind())
	}
	r := p.Node
	if r.IsLeaf() {
		if r.Level != 0 {
			return nil, fmt.Errorf("level %d node has no addresses", r.Level)
		}
		return tree.NewLeaf(r.Keys), nil
	}

	if r.Level < 1 {
		return nil, fmt.Errorf("leaf record carries %d addresses", len(r.Addresses))
	}
	if len(r.Addresses) != len(r.Keys) {
		return nil, fmt.Errorf("branch has %d keys but %d addresses", len(r.Keys), len(r.Addresses))
	}
	children := make([]*tree.Ref, len(r.Addresses))
	for i, a := range r.Addresses {
		if a.IsReserved() {
			return nil, fmt.Errorf("branch references reserved address %s", a)
		}
		children[i] = tree.Lazy(tree.Location{Owner: loc.Owner, Addr: a}, loader)
	}
	return tree.NewBranch(r.Level, r.Keys, children), nil
}
