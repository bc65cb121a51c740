package tree

import (
	"sync"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

// Location says where a node is persisted. Owner identifies the store.
type Location struct {
	Owner string
	Addr  model.Address
}

// Loader resolves a stored address into a node.
type Loader interface {
	Load(addr model.Address) (*Node, error)
}

// Node is an immutable tree node. For branches keys[i] is the largest key
// reachable through children[i]. A node may be stored in several stores,
// at most once in each.
type Node struct {
	level    int
	keys     []model.Tuple
	children []*Ref

	mu   sync.RWMutex
	locs []Location
}

// NewLeaf builds a level-0 node. keys must already be sorted.
func NewLeaf(keys []model.Tuple) *Node {
	return &Node{keys: keys}
}

// NewBranch builds a node above level 0 with one child per key.
func NewBranch(level int, keys []model.Tuple, children []*Ref) *Node {
	return &Node{level: level, keys: keys, children: children}
}

func (n *Node) Level() int { return n.level }
func (n *Node) IsLeaf() bool { return n.level == 0 }
func (n *Node) Keys() []model.Tuple { return n.keys }
func (n *Node) Children() []*Ref { return n.children }

// Location returns the node's address in the store owner, if it is stored
// there.
func (n *Node) Location(owner string) (model.Address, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, l := range n.locs {
		if l.Owner == owner {
			return l.Addr, true
		}
	}
	return 0, false
}

// SetLocation records where the node is stored. The first location recorded
// for a store wins; later calls for the same store report false.
func (n *Node) SetLocation(loc Location) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, l := range n.locs {
		if l.Owner == loc.Owner {
			return false
		}
	}
	n.locs = append(n.locs, loc)
	return true
}

// Locations lists every store the node is known to be in.
func (n *Node) Locations() []Location {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Location(nil), n.locs...)
}

func (n *Node) maxKey() model.Tuple {
	return n.keys[len(n.keys)-1]
}

// Ref points at a child node: either resident in memory or known only by
// its location in one store until first dereferenced.
type Ref struct {
	mu     sync.Mutex
	node   *Node
	loc    Location
	lazy   bool
	loader Loader
}

// Resident wraps an in-memory node.
func Resident(n *Node) *Ref {
	return &Ref{node: n}
}

// Lazy refers to a stored node that loader fetches on demand.
func Lazy(loc Location, loader Loader) *Ref {
	return &Ref{loc: loc, lazy: true, loader: loader}
}

// Location returns the address of the referenced node in the store owner
// without loading it.
func (r *Ref) Location(owner string) (model.Address, bool) {
	if r.lazy && r.loc.Owner == owner {
		return r.loc.Addr, true
	}
	if n := r.Loaded(); n != nil {
		return n.Location(owner)
	}
	return 0, false
}

// Loaded returns the node if it is already in memory.
func (r *Ref) Loaded() *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.node
}

// Node dereferences r, loading and caching the node if needed.
func (r *Ref) Node() (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.node != nil {
		return r.node, nil
	}
	n, err := r.loader.Load(r.loc.Addr)
	if err != nil {
		return nil, err
	}
	r.node = n
	return n, nil
}
