package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	ring := NewRing[int](3)
	assert.Equal(t, 3, ring.Cap())
	assert.Equal(t, 0, ring.Len())
	assert.Empty(t, ring.Items())

	ring.Push(1)
	ring.Push(2)
	assert.Equal(t, []int{1, 2}, ring.Items())

	ring.Push(3)
	assert.Equal(t, []int{1, 2, 3}, ring.Items())

	ring.Push(4)
	assert.Equal(t, 3, ring.Len())
	assert.Equal(t, []int{2, 3, 4}, ring.Items())

	ring.Push(5)
	ring.Push(6)
	assert.Equal(t, []int{4, 5, 6}, ring.Items())
}

func TestRingMinimumCapacity(t *testing.T) {
	ring := NewRing[string](0)
	assert.Equal(t, 1, ring.Cap())

	ring.Push("a")
	ring.Push("b")
	assert.Equal(t, []string{"b"}, ring.Items())
}
