// Package history keeps a bounded record of avatar ids that were relayed successfully.
package history

import (
	"sync"

	"pawrelay/internal/avatarid"
	"pawrelay/internal/metrics"
)

// DefaultCapacity is the number of ids retained when no capacity is configured.
const DefaultCapacity = 1000

// Buffer is a bounded FIFO without duplicates. When full, the oldest id is evicted.
//
// It is safe for concurrent use; relay completions append from many goroutines while
// the status API reads snapshots.
type Buffer struct {
	mu    sync.RWMutex
	cap   int
	items []avatarid.ID
	index map[avatarid.ID]struct{}
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		cap:   capacity,
		items: make([]avatarid.ID, 0, min(capacity, 64)),
		index: make(map[avatarid.ID]struct{}),
	}
}

// Append adds id at the back. It reports false (and changes nothing) if id is
// already present.
func (b *Buffer) Append(id avatarid.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.index[id]; ok {
		return false
	}
	b.items = append(b.items, id)
	b.index[id] = struct{}{}
	b.evictLocked()
	metrics.SetHistorySize(len(b.items))
	return true
}

// Snapshot returns a copy of the contents, oldest first.
func (b *Buffer) Snapshot() []avatarid.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]avatarid.ID, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer) Contains(id avatarid.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *Buffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cap
}

// Resize changes the capacity, evicting the oldest ids if the buffer is now over it.
func (b *Buffer) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b.mu.Lock()
	b.cap = capacity
	b.evictLocked()
	metrics.SetHistorySize(len(b.items))
	b.mu.Unlock()
}

func (b *Buffer) evictLocked() {
	over := len(b.items) - b.cap
	if over <= 0 {
		return
	}
	for _, id := range b.items[:over] {
		delete(b.index, id)
	}
	// Shift in place so the backing array doesn't grow without bound.
	n := copy(b.items, b.items[over:])
	clear(b.items[n:])
	b.items = b.items[:n]
}
