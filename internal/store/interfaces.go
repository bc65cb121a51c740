// Package store holds the storage port and its backends.
package store

import (
	"context"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

// Entry is one address/payload pair handed to NodeStore.Store.
type Entry struct {
	Addr    model.Address
	Payload *model.Payload
}

// NodeStore is the storage port every backend implements.
//
// Store persists the entries in order, or atomically where the backend can.
// Callers put node entries before the root and tail entries that reference
// them. Restore returns an error satisfying errors.IsNotFound for absent
// addresses. Delete ignores addresses that are not present.
type NodeStore interface {
	// ID identifies the backend in errors, logs and node locations.
	ID() string
	Store(ctx context.Context, entries []Entry) error
	Restore(ctx context.Context, addr model.Address) (*model.Payload, error)
	ListAddresses(ctx context.Context) ([]model.Address, error)
	Delete(ctx context.Context, addrs []model.Address) error
}
