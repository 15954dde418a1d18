// Package collections provides containers whose storage comes from the
// allocators instead of the Go heap.
package collections

import (
	"unsafe"

	"github.com/axrengine/axrmem/allocator"
)

const minVectorCapacity = 4

// Vector is a growable array stored on a StackAllocator.
//
// Growing resizes the block in place while it is the top of the stack.
// Otherwise a new block is allocated and the old one stays on the stack until
// the owner rolls back past it. A Vector must not be used after that rollback.
type Vector[T any] struct {
	stack  *allocator.StackAllocator
	data   []T
	marker allocator.Marker
}

// NewVector reserves room for capacity elements. T must not contain pointers.
func NewVector[T any](stack *allocator.StackAllocator, capacity int) (*Vector[T], error) {
	v := &Vector[T]{stack: stack}
	if capacity > 0 {
		data, marker, err := allocator.NewSlice[T](stack, capacity)
		if err != nil {
			return nil, err
		}
		v.data = data[:0]
		v.marker = marker
	}
	return v, nil
}

// Len ...
func (v *Vector[T]) Len() int {
	return len(v.data)
}

// Cap ...
func (v *Vector[T]) Cap() int {
	return cap(v.data)
}

// Marker returns the marker of the current block, 0 when none is held.
func (v *Vector[T]) Marker() allocator.Marker {
	return v.marker
}

// Get ...
func (v *Vector[T]) Get(i int) T {
	return v.data[i]
}

// Set ...
func (v *Vector[T]) Set(i int, value T) {
	v.data[i] = value
}

// Slice returns the elements. It is invalidated by the next growth.
func (v *Vector[T]) Slice() []T {
	return v.data
}

// Append adds value at the end, growing the block when full.
func (v *Vector[T]) Append(value T) error {
	if len(v.data) == cap(v.data) {
		if err := v.grow(len(v.data) + 1); err != nil {
			return err
		}
	}
	v.data = append(v.data, value)
	return nil
}

// isTop reports whether the top allocation is this vector's block. Marker IDs
// are reused after a rollback, so the block's bounds must match as well.
func (v *Vector[T]) isTop() bool {
	if v.marker == 0 || cap(v.data) == 0 {
		return false
	}
	marker, mem := v.stack.TopAllocation()
	if marker != v.marker {
		return false
	}

	// NewSlice and ResizeSlice leave at most alignof(T) bytes before and after the elements.
	var zero T
	align := unsafe.Alignof(zero)
	start := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	limit := start + uintptr(len(mem))
	data := uintptr(unsafe.Pointer(unsafe.SliceData(v.data)))
	end := data + uintptr(cap(v.data))*unsafe.Sizeof(zero)
	return data > start && data-start <= align && end <= limit && limit-end <= align
}

func (v *Vector[T]) grow(minCap int) error {
	newCap := max(2*cap(v.data), minCap, minVectorCapacity)

	if v.isTop() {
		data, err := allocator.ResizeSlice(v.stack, v.data[:cap(v.data)], v.marker, newCap)
		if err != nil {
			return err
		}
		v.data = data[:len(v.data)]
		return nil
	}

	data, marker, err := allocator.NewSlice[T](v.stack, newCap)
	if err != nil {
		return err
	}
	n := copy(data, v.data)
	v.data = data[:n]
	v.marker = marker
	return nil
}

// Release frees the vector's block if it is still the most recent allocation
// on the stack and reports whether it did. Either way the vector is emptied.
func (v *Vector[T]) Release() bool {
	released := false
	if v.isTop() {
		v.stack.Deallocate(v.marker)
		released = true
	}
	v.data = nil
	v.marker = 0
	return released
}
