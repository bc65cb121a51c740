// Package database holds an immutable tuple database: a schema and the
// three sorted projections of one tuple set.
package database

import (
	"sync"

	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
	"github.com/devrev/pairdb/indexstore/internal/store"
	"github.com/devrev/pairdb/indexstore/internal/tree"
	"github.com/devrev/pairdb/indexstore/internal/validation"
)

// Options tunes a new database.
type Options struct {
	Branching int
	Validator *validation.Validator
}

// DB is one version of the database. Transact returns a new version and
// leaves the receiver unchanged. The only mutable part is the storage
// binding, which is set once the version has been stored.
type DB struct {
	schema    model.Schema
	indexes   [3]*tree.Tree
	maxEid    int64
	maxTx     int64
	validator *validation.Validator

	mu      sync.Mutex
	backend store.NodeStore
}

func (o *Options) withDefaults() Options {
	out := Options{Branching: tree.DefaultBranching}
	if o != nil {
		if o.Branching > 0 {
			out.Branching = o.Branching
		}
		out.Validator = o.Validator
	}
	if out.Validator == nil {
		out.Validator = validation.NewValidator()
	}
	return out
}

// New returns an empty, unbound database.
func New(schema model.Schema, opts *Options) (*DB, error) {
	o := opts.withDefaults()
	if err := o.Validator.ValidateSchema(schema); err != nil {
		return nil, err
	}
	if schema == nil {
		schema = model.Schema{}
	}
	db := &DB{schema: schema, validator: o.Validator}
	for _, idx := range model.Indexes {
		db.indexes[idx] = tree.New(idx.Comparator(), o.Branching)
	}
	return db, nil
}

// Restored assembles a database from restored projections already bound to
// backend.
func Restored(schema model.Schema, indexes [3]*tree.Tree, maxEid, maxTx int64, backend store.NodeStore, opts *Options) *DB {
	o := opts.withDefaults()
	if schema == nil {
		schema = model.Schema{}
	}
	return &DB{
		schema:    schema,
		indexes:   indexes,
		maxEid:    maxEid,
		maxTx:     maxTx,
		validator: o.Validator,
		backend:   backend,
	}
}

// Transact validates tx and returns a new version holding its tuples. The
// new version inherits the receiver's storage binding.
func (db *DB) Transact(tx []model.Tuple) (*DB, error) {
	if err := db.ValidateTransaction(tx); err != nil {
		return nil, err
	}

	next := &DB{
		schema:    db.schema,
		indexes:   db.indexes,
		maxEid:    db.maxEid,
		maxTx:     db.maxTx,
		validator: db.validator,
		backend:   db.Backend(),
	}
	for _, t := range tx {
		for _, idx := range model.Indexes {
			updated, err := next.indexes[idx].Insert(t)
			if err != nil {
				return nil, err
			}
			next.indexes[idx] = updated
		}
		next.maxEid = max(next.maxEid, t.E)
		next.maxTx = max(next.maxTx, t.Tx)
	}
	return next, nil
}

// ValidateTransaction checks tx against the database's limits without
// applying it.
func (db *DB) ValidateTransaction(tx []model.Tuple) error {
	return db.validator.ValidateTransaction(tx)
}

func (db *DB) Schema() model.Schema { return db.schema }
func (db *DB) MaxEid() int64 { return db.maxEid }
func (db *DB) MaxTx() int64 { return db.maxTx }

// Index returns the tree of one projection.
func (db *DB) Index(idx model.IndexType) *tree.Tree {
	return db.indexes[idx]
}

// Branching returns the node size limit of the projections.
func (db *DB) Branching() int {
	return db.indexes[model.EAVT].Branching()
}

// Datoms returns every tuple in the order of idx. Stored nodes are loaded
// as needed.
func (db *DB) Datoms(idx model.IndexType) ([]model.Tuple, error) {
	return db.indexes[idx].Slice()
}

// Has reports whether t is in the database.
func (db *DB) Has(t model.Tuple) (bool, error) {
	return db.indexes[model.EAVT].Has(t)
}

// Backend returns the store this version is bound to, or nil.
func (db *DB) Backend() store.NodeStore {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.backend
}

// Bind associates the database with backend. Binding to the store it is
// already bound to is a no-op; any other store is a conflict.
func (db *DB) Bind(backend store.NodeStore) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.backend != nil && db.backend.ID() != backend.ID() {
		return storeerrors.StorageConflict(db.backend.ID(), backend.ID())
	}
	db.backend = backend
	return nil
}
