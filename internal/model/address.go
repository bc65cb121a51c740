package model

import "fmt"

// Address identifies a stored record. Nodes are content-immutable per address;
// only RootAddress and TailAddress are ever overwritten.
type Address uint64

const (
	// RootAddress holds the snapshot root record.
	RootAddress Address = 0
	// TailAddress holds the transactions applied after the last snapshot.
	TailAddress Address = 1
	// FirstNodeAddress is the smallest address the allocator may hand out.
	FirstNodeAddress Address = 2
)

// NoAddress marks an in-memory node that has not been stored yet. It shares
// its value with RootAddress, which is never assigned to a node.
const NoAddress = RootAddress

// IsReserved reports whether addr is one of the overwritable addresses.
func (a Address) IsReserved() bool {
	return a == RootAddress || a == TailAddress
}

func (a Address) String() string {
	return fmt.Sprintf("%08x", uint64(a))
}
