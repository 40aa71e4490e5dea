// Package memory holds the bounded observation history the repair loop
// feeds back to the reasoning service.
package memory

// DefaultCapacity is the default number of entries a Buffer retains.
const DefaultCapacity = 50

// Buffer is a fixed-capacity, insertion-ordered history. When full, adding
// an entry evicts the oldest one. It is not safe for concurrent use; the
// repair loop is single-threaded.
type Buffer[T any] struct {
	items    []T
	start    int
	size     int
	capacity int
}

// New creates a Buffer holding at most capacity entries. A capacity below
// one is raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest entry if the buffer is full.
func (b *Buffer[T]) Add(item T) {
	if b.size < b.capacity {
		b.items[(b.start+b.size)%b.capacity] = item
		b.size++
		return
	}

	b.items[b.start] = item
	b.start = (b.start + 1) % b.capacity
}

// Latest returns up to k of the most recent entries, oldest first and
// newest last. k larger than Len returns everything; k <= 0 returns nil.
func (b *Buffer[T]) Latest(k int) []T {
	if k <= 0 || b.size == 0 {
		return nil
	}
	if k > b.size {
		k = b.size
	}

	out := make([]T, 0, k)
	for i := b.size - k; i < b.size; i++ {
		out = append(out, b.items[(b.start+i)%b.capacity])
	}
	return out
}

// All returns every retained entry in insertion order.
func (b *Buffer[T]) All() []T {
	return b.Latest(b.size)
}

// Len returns the number of retained entries.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the maximum number of entries.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}
