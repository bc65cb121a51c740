package store

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

// MemoryStore keeps encoded payloads in a map. A Store call is applied
// atomically.
type MemoryStore struct {
	id    string
	codec codec.Codec
	mu    sync.RWMutex
	data  map[model.Address][]byte
}

// NewMemoryStore creates an empty store encoding payloads with c (JSON if nil).
func NewMemoryStore(c codec.Codec) *MemoryStore {
	if c == nil {
		c = codec.JSON()
	}
	return &MemoryStore{
		id:    "memory:" + uuid.NewString(),
		codec: c,
		data:  make(map[model.Address][]byte),
	}
}

func (s *MemoryStore) ID() string { return s.id }

func (s *MemoryStore) Store(ctx context.Context, entries []Entry) error {
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := s.codec.Marshal(e.Payload)
		if err != nil {
			return storeerrors.InternalError("failed to encode payload", err).WithDetail("address", e.Addr)
		}
		encoded[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entries {
		s.data[e.Addr] = encoded[i]
	}
	return nil
}

func (s *MemoryStore) Restore(ctx context.Context, addr model.Address) (*model.Payload, error) {
	s.mu.RLock()
	data, ok := s.data[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, storeerrors.NotFound(s.id, addr)
	}
	p, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, storeerrors.Malformed(s.id, addr, err)
	}
	return p, nil
}

func (s *MemoryStore) ListAddresses(ctx context.Context) ([]model.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]model.Address, 0, len(s.data))
	for a := range s.data {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return addrs, nil
}

func (s *MemoryStore) Delete(ctx context.Context, addrs []model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addrs {
		delete(s.data, a)
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Raw returns the encoded bytes at addr, for inspection and fault injection.
func (s *MemoryStore) Raw(addr model.Address) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[addr]
	return data, ok
}

// PutRaw overwrites the encoded bytes at addr.
func (s *MemoryStore) PutRaw(addr model.Address, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[addr] = data
}
