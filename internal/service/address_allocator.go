package service

import (
	"fmt"
	"sync/atomic"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

// AddressAllocator hands out node addresses. Addresses increase
// monotonically and are never reused for the allocator's lifetime.
type AddressAllocator struct {
	// high is the largest address handed out or advanced to.
	high atomic.Uint64
}

// NewAddressAllocator returns an allocator whose first address is base.
func NewAddressAllocator(base model.Address) (*AddressAllocator, error) {
	if base < model.FirstNodeAddress {
		return nil, fmt.Errorf("allocator base %d overlaps reserved addresses", base)
	}
	a := &AddressAllocator{}
	a.high.Store(uint64(base) - 1)
	return a, nil
}

// Next returns a fresh address.
func (a *AddressAllocator) Next() model.Address {
	return model.Address(a.high.Add(1))
}

// Advance makes every later Next return an address greater than to.
func (a *AddressAllocator) Advance(to model.Address) {
	for {
		cur := a.high.Load()
		if uint64(to) <= cur || a.high.CompareAndSwap(cur, uint64(to)) {
			return
		}
	}
}

// Current returns the high-water mark: no address above it has been issued.
func (a *AddressAllocator) Current() model.Address {
	return model.Address(a.high.Load())
}
