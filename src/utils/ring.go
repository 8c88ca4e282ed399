package utils

// Ring is a fixed-capacity buffer that evicts its oldest element when full.
// It is not safe for concurrent use; owners guard it with their own mutex.
type Ring[T any] struct {
	items    []T
	start    int
	size     int
	capacity int
}

// NewRing creates a ring holding at most capacity elements.
// A capacity below one is treated as one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest one when the ring is full.
func (r *Ring[T]) Push(item T) {
	if r.size < r.capacity {
		r.items[(r.start+r.size)%r.capacity] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % r.capacity
}

// Items returns the buffered elements oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%r.capacity])
	}
	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}
