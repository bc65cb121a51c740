package model

import "fmt"

// AttrSpec describes one schema attribute.
type AttrSpec struct {
	Cardinality string `json:"cardinality,omitempty" yaml:"cardinality,omitempty" cbor:"cardinality,omitempty" mapstructure:"cardinality"`
	Unique      string `json:"unique,omitempty" yaml:"unique,omitempty" cbor:"unique,omitempty" mapstructure:"unique"`
	Index       bool   `json:"index,omitempty" yaml:"index,omitempty" cbor:"index,omitempty" mapstructure:"index"`
}

// Schema maps attribute names to their specs.
type Schema map[string]AttrSpec

// NodeRecord is the stored form of a tree node. Addresses is present only
// for branches.
type NodeRecord struct {
	Level     int       `json:"level" yaml:"level" cbor:"level"`
	Keys      []Tuple   `json:"keys" yaml:"keys" cbor:"keys"`
	Addresses []Address `json:"addresses,omitempty" yaml:"addresses,omitempty" cbor:"addresses,omitempty"`
}

// IsLeaf reports whether the record decodes to a leaf.
func (r *NodeRecord) IsLeaf() bool {
	return r.Addresses == nil
}

// RootRecord is the snapshot entry point stored at RootAddress.
type RootRecord struct {
	Schema    Schema  `json:"schema" yaml:"schema" cbor:"schema"`
	EAVT      Address `json:"eavt" yaml:"eavt" cbor:"eavt"`
	AEVT      Address `json:"aevt" yaml:"aevt" cbor:"aevt"`
	AVET      Address `json:"avet" yaml:"avet" cbor:"avet"`
	MaxEid    int64   `json:"max-eid" yaml:"max-eid" cbor:"max-eid"`
	MaxTx     int64   `json:"max-tx" yaml:"max-tx" cbor:"max-tx"`
	MaxAddr   Address `json:"max-addr" yaml:"max-addr" cbor:"max-addr"`
	Branching int     `json:"branching" yaml:"branching" cbor:"branching"`
}

// IndexRoot returns the stored root address of the given projection.
func (r *RootRecord) IndexRoot(idx IndexType) Address {
	switch idx {
	case AEVT:
		return r.AEVT
	case AVET:
		return r.AVET
	default:
		return r.EAVT
	}
}

// Validate checks the fields restore depends on.
func (r *RootRecord) Validate() error {
	for _, idx := range Indexes {
		if a := r.IndexRoot(idx); a < FirstNodeAddress {
			return fmt.Errorf("%s root address %d is reserved", idx, a)
		}
		if a := r.IndexRoot(idx); a > r.MaxAddr {
			return fmt.Errorf("%s root address %d exceeds max-addr %d", idx, a, r.MaxAddr)
		}
	}
	if r.Branching < 2 {
		return fmt.Errorf("invalid branching factor %d", r.Branching)
	}
	return nil
}

// TailRecord lists transactions applied after the snapshot, oldest first.
type TailRecord [][]Tuple

// Payload is what a store holds at one address: exactly one of the fields
// is set.
type Payload struct {
	Root *RootRecord `json:"root,omitempty" yaml:"root,omitempty" cbor:"root,omitempty"`
	Tail *TailRecord `json:"tail,omitempty" yaml:"tail,omitempty" cbor:"tail,omitempty"`
	Node *NodeRecord `json:"node,omitempty" yaml:"node,omitempty" cbor:"node,omitempty"`
}

// Kind names the populated field, or "invalid".
func (p *Payload) Kind() string {
	if p == nil {
		return "invalid"
	}
	n, kind := 0, "invalid"
	if p.Root != nil {
		n, kind = n+1, "root"
	}
	if p.Tail != nil {
		n, kind = n+1, "tail"
	}
	if p.Node != nil {
		n, kind = n+1, "node"
	}
	if n != 1 {
		return "invalid"
	}
	return kind
}

func RootPayload(r *RootRecord) *Payload { return &Payload{Root: r} }
func NodePayload(n *NodeRecord) *Payload { return &Payload{Node: n} }

// TailPayload wraps txs, keeping an empty tail distinct from an absent one.
func TailPayload(txs [][]Tuple) *Payload {
	t := TailRecord{}
	if len(txs) > 0 {
		t = TailRecord(txs)
	}
	return &Payload{Tail: &t}
}
