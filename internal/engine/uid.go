package engine

import (
	"errors"
	"sync/atomic"
)

// ErrUIDSpaceExhausted is returned once every nonzero uint32 has been
// handed out (wraparound is rejected rather than
// reusing IDs, so a UID never silently identifies two different
// connections).
var ErrUIDSpaceExhausted = errors.New("engine: user ID space exhausted")

// UIDAllocator hands out process-wide-unique, nonzero 32-bit user IDs.
// Safe for concurrent use by every shard.
type UIDAllocator struct {
	next atomic.Uint32
}

// NewUIDAllocator returns an allocator whose first Next() call yields 1.
func NewUIDAllocator() *UIDAllocator {
	return &UIDAllocator{}
}

// Next returns the next user ID, or ErrUIDSpaceExhausted once the
// 32-bit space (minus the reserved 0 value) is used up.
func (a *UIDAllocator) Next() (uint32, error) {
	for {
		cur := a.next.Load()
		if cur == 0xffffffff {
			return 0, ErrUIDSpaceExhausted
		}
		next := cur + 1
		if a.next.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}
