package tree

import (
	"slices"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

const (
	DefaultBranching = 64
	MinBranching     = 4
)

// Compare orders tuples within one tree.
type Compare func(a, b model.Tuple) int

// Tree is a persistent B+tree of tuples. Insert returns a new tree that
// shares every untouched subtree with the receiver.
type Tree struct {
	root      *Ref
	cmp       Compare
	branching int
}

// New returns an empty tree whose nodes hold at most branching entries.
func New(cmp Compare, branching int) *Tree {
	return FromRoot(Resident(NewLeaf(nil)), cmp, branching)
}

// FromRoot wraps an existing root, typically a Lazy ref to a stored node.
func FromRoot(root *Ref, cmp Compare, branching int) *Tree {
	if branching < MinBranching {
		branching = MinBranching
	}
	return &Tree{root: root, cmp: cmp, branching: branching}
}

func (t *Tree) Root() *Ref { return t.root }
func (t *Tree) Branching() int { return t.branching }

// Insert adds key. The receiver is returned unchanged if key is present.
func (t *Tree) Insert(key model.Tuple) (*Tree, error) {
	root, err := t.root.Node()
	if err != nil {
		return nil, err
	}
	parts, err := t.insert(root, key)
	if err != nil || parts == nil {
		return t, err
	}
	var next *Node
	if len(parts) == 1 {
		next = parts[0]
	} else {
		next = NewBranch(root.level+1,
			[]model.Tuple{parts[0].maxKey(), parts[1].maxKey()},
			[]*Ref{Resident(parts[0]), Resident(parts[1])})
	}
	return &Tree{root: Resident(next), cmp: t.cmp, branching: t.branching}, nil
}

// insert returns the replacement for n (one node, or two after a split), or
// nil when key is already present.
func (t *Tree) insert(n *Node, key model.Tuple) ([]*Node, error) {
	idx, found := slices.BinarySearchFunc(n.keys, key, t.cmp)
	if n.IsLeaf() {
		if found {
			return nil, nil
		}
		keys := slices.Insert(slices.Clone(n.keys), idx, key)
		if len(keys) <= t.branching {
			return []*Node{NewLeaf(keys)}, nil
		}
		mid := len(keys) / 2
		return []*Node{NewLeaf(slices.Clone(keys[:mid])), NewLeaf(slices.Clone(keys[mid:]))}, nil
	}

	if found {
		return nil, nil
	}
	if idx == len(n.keys) {
		idx--
	}
	child, err := n.children[idx].Node()
	if err != nil {
		return nil, err
	}
	parts, err := t.insert(child, key)
	if err != nil || parts == nil {
		return nil, err
	}

	keys := make([]model.Tuple, 0, len(n.keys)+1)
	children := make([]*Ref, 0, len(n.children)+1)
	keys = append(keys, n.keys[:idx]...)
	children = append(children, n.children[:idx]...)
	for _, p := range parts {
		keys = append(keys, p.maxKey())
		children = append(children, Resident(p))
	}
	keys = append(keys, n.keys[idx+1:]...)
	children = append(children, n.children[idx+1:]...)

	if len(keys) <= t.branching {
		return []*Node{NewBranch(n.level, keys, children)}, nil
	}
	mid := len(keys) / 2
	return []*Node{
		NewBranch(n.level, slices.Clone(keys[:mid]), slices.Clone(children[:mid])),
		NewBranch(n.level, slices.Clone(keys[mid:]), slices.Clone(children[mid:])),
	}, nil
}

// Has reports whether key is in the tree.
func (t *Tree) Has(key model.Tuple) (bool, error) {
	ref := t.root
	for {
		n, err := ref.Node()
		if err != nil {
			return false, err
		}
		idx, found := slices.BinarySearchFunc(n.keys, key, t.cmp)
		if found {
			return true, nil
		}
		if n.IsLeaf() || idx == len(n.keys) {
			return false, nil
		}
		ref = n.children[idx]
	}
}

// Seq calls fn for every key in order until fn returns false.
func (t *Tree) Seq(fn func(model.Tuple) bool) error {
	_, err := seq(t.root, fn)
	return err
}

func seq(ref *Ref, fn func(model.Tuple) bool) (bool, error) {
	n, err := ref.Node()
	if err != nil {
		return false, err
	}
	if n.IsLeaf() {
		for _, k := range n.keys {
			if !fn(k) {
				return false, nil
			}
		}
		return true, nil
	}
	for _, c := range n.children {
		more, err := seq(c, fn)
		if err != nil || !more {
			return false, err
		}
	}
	return true, nil
}

// Slice returns all keys in order.
func (t *Tree) Slice() ([]model.Tuple, error) {
	var out []model.Tuple
	err := t.Seq(func(k model.Tuple) bool {
		out = append(out, k)
		return true
	})
	return out, err
}

// Len counts the keys, loading every node.
func (t *Tree) Len() (int, error) {
	n := 0
	err := t.Seq(func(model.Tuple) bool {
		n++
		return true
	})
	return n, err
}

// Walk reports the address in store owner of every node reachable from the
// root that is stored there. Nodes not stored in owner are descended into
// but not reported. Leaves are never loaded for this.
func (t *Tree) Walk(owner string, fn func(model.Address)) error {
	return walk(t.root, false, owner, fn)
}

func walk(ref *Ref, leaf bool, owner string, fn func(model.Address)) error {
	if addr, ok := ref.Location(owner); ok {
		fn(addr)
	}
	if leaf {
		return nil
	}
	n, err := ref.Node()
	if err != nil {
		return err
	}
	for _, c := range n.children {
		if err := walk(c, n.level == 1, owner, fn); err != nil {
			return err
		}
	}
	return nil
}
