package coro

import (
	"sync/atomic"
)

// Ring slot state enums
const (
	slotEmpty = iota
	slotBusy
	slotCommitted
)

type (
	// Most modern CPUs have cache line size of 64 bytes
	cacheLinePadding [8]uint64

	// ringSlot is a single slot in the ring, each one having its own state
	ringSlot[T any] struct {
		state uint32
		item  T
	}

	// Ring is a cache friendly power-of-2 ringbuffer used as a coroutine
	// mailbox. The single producer parks when the consumer is a full lap
	// behind; the consumer never blocks and is expected to yield between
	// drains instead.
	Ring[T any] struct {
		_p1         cacheLinePadding
		writerIndex atomic.Uint64
		_p2         cacheLinePadding
		readerIndex atomic.Uint64
		_p3         cacheLinePadding
		writerPark  threadParker
		mask        uint64
		slots       []ringSlot[T]
		_p4         cacheLinePadding
	}
)

// NewRing returns a mailbox holding at least the given number of items,
// rounded up to a power of 2 so indexes wrap by masking.
func NewRing[T any](capacity int) *Ring[T] {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &Ring[T]{
		writerPark: newThreadParker(),
		mask:       size - 1,
		slots:      make([]ringSlot[T], size),
	}
}

// Write publishes one item, parking until the consumer frees the slot when
// the ring is full.
func (self *Ring[T]) Write(value T) {
	idx := (self.writerIndex.Add(1) - 1) & self.mask
	slot := &self.slots[idx]

	for !atomic.CompareAndSwapUint32(&slot.state, slotEmpty, slotBusy) {
		self.writerPark.park(func() bool {
			return atomic.LoadUint32(&slot.state) == slotEmpty
		})
	}
	slot.item = value
	atomic.StoreUint32(&slot.state, slotCommitted)
}

// TryRead pops the next item without blocking.
func (self *Ring[T]) TryRead() (value T, ok bool) {
	idx := self.readerIndex.Load() & self.mask
	slot := &self.slots[idx]

	if !atomic.CompareAndSwapUint32(&slot.state, slotCommitted, slotBusy) {
		return value, false
	}
	self.readerIndex.Add(1)
	value = slot.item
	var zero T
	slot.item = zero
	atomic.StoreUint32(&slot.state, slotEmpty)
	self.writerPark.ready()
	return value, true
}
