package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

func TestAddressAllocator_Next(t *testing.T) {
	a, err := NewAddressAllocator(model.FirstNodeAddress)
	require.NoError(t, err)

	assert.Equal(t, model.Address(1), a.Current())
	assert.Equal(t, model.Address(2), a.Next())
	assert.Equal(t, model.Address(3), a.Next())
	assert.Equal(t, model.Address(3), a.Current())
}

func TestAddressAllocator_Advance(t *testing.T) {
	a, err := NewAddressAllocator(10)
	require.NoError(t, err)

	a.Advance(100)
	assert.Equal(t, model.Address(101), a.Next())

	// Never moves backwards.
	a.Advance(50)
	assert.Equal(t, model.Address(102), a.Next())
	assert.Equal(t, model.Address(102), a.Current())
}

func TestAddressAllocator_RejectsReservedBase(t *testing.T) {
	for _, base := range []model.Address{model.RootAddress, model.TailAddress} {
		_, err := NewAddressAllocator(base)
		assert.Error(t, err, "base %d", base)
	}
}

func TestAddressAllocator_ConcurrentNextIsUnique(t *testing.T) {
	a, err := NewAddressAllocator(model.FirstNodeAddress)
	require.NoError(t, err)

	const workers, perWorker = 16, 500
	results := make([][]model.Address, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				results[w] = append(results[w], a.Next())
				if i%100 == 0 {
					a.Advance(model.Address(i))
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[model.Address]bool, workers*perWorker)
	for _, rs := range results {
		for i, addr := range rs {
			assert.False(t, seen[addr], "address %s issued twice", addr)
			seen[addr] = true
			if i > 0 {
				assert.Greater(t, addr, rs[i-1])
			}
		}
	}
	assert.Len(t, seen, workers*perWorker)
}
