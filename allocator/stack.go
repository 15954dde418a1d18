package allocator

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// StackAllocator is a single-ended bump allocator. Every allocation is followed
// by an inline marker, so the stack can be rolled back to any earlier marker.
// Not goroutine-safe.
type StackAllocator struct {
	SubAllocator

	size int
	peak int
}

// NewStackAllocator manages memory as a stack. deallocate is called once on Destroy.
func NewStackAllocator(memory []byte, deallocate DeallocateFunc, opts ...Option) *StackAllocator {
	return &StackAllocator{
		SubAllocator: newSubAllocator(memory, deallocate, opts),
	}
}

// Size returns the bytes in use, markers included.
func (s *StackAllocator) Size() int {
	return s.size
}

// Remaining ...
func (s *StackAllocator) Remaining() int {
	return s.Capacity() - s.size
}

// IsEmpty ...
func (s *StackAllocator) IsEmpty() bool {
	return s.size == 0
}

// TopMarker returns the most recent marker, 0 when empty.
func (s *StackAllocator) TopMarker() Marker {
	return Marker(s.top().id)
}

// TopAllocation returns the top marker and the bytes of the top allocation.
func (s *StackAllocator) TopAllocation() (Marker, []byte) {
	top := s.top()
	if top.id == 0 {
		return 0, nil
	}
	start := s.size - markerSize - int(top.size)
	end := start + int(top.size)
	return Marker(top.id), s.memory[start:end:end]
}

func (s *StackAllocator) top() markerHeader {
	if s.size == 0 {
		return markerHeader{}
	}
	return readMarker(s.memory, s.size-markerSize)
}

// Allocate reserves size zeroed bytes on top of the stack.
func (s *StackAllocator) Allocate(size int) ([]byte, Marker, error) {
	assertTrue(size >= 0, "stack: negative allocation size %d", size)

	if !fitsWithMarker(size, s.Remaining()) {
		return nil, 0, outOfMemory("stack", size+markerSize, s.Remaining())
	}

	start := s.size
	mem := s.memory[start : start+size : start+size]
	clear(mem)

	id := s.top().id + 1
	writeMarker(s.memory, start+size, markerHeader{size: uint64(size), id: id})

	s.size += size + markerSize
	if s.size > s.peak {
		s.peak = s.size
	}
	return mem, Marker(id), nil
}

// AllocateAligned reserves size zeroed bytes whose start is aligned to align.
// The allocation costs size+align bytes plus the marker.
func (s *StackAllocator) AllocateAligned(size int, align uintptr) ([]byte, Marker, error) {
	assertShiftAlignment("stack", align)

	mem, marker, err := s.Allocate(size + int(align))
	if err != nil {
		return nil, 0, err
	}
	return alignSlice(mem, size, align), marker, nil
}

// Resize changes the size of the top allocation in place. Bytes past the old
// size are zeroed. marker must be the top marker.
func (s *StackAllocator) Resize(marker Marker, size int) ([]byte, error) {
	top := s.top()
	assertTrue(marker != 0 && uint32(marker) == top.id, "stack: marker %d is not the top (top %d)", marker, top.id)
	assertTrue(size >= 0, "stack: negative allocation size %d", size)

	oldSize := int(top.size)
	start := s.size - markerSize - oldSize
	if size > oldSize && !fitsWithMarker(size, s.Capacity()-start) {
		return nil, outOfMemory("stack", size-oldSize, s.Remaining())
	}

	if size > oldSize {
		clear(s.memory[start+oldSize : start+size])
	}
	writeMarker(s.memory, start+size, markerHeader{size: uint64(size), id: top.id})

	s.size = start + size + markerSize
	if s.size > s.peak {
		s.peak = s.size
	}
	return s.memory[start : start+size : start+size], nil
}

func (s *StackAllocator) isLive(marker Marker) bool {
	return marker != 0 && uint32(marker) <= s.top().id
}

// Deallocate pops every allocation from the top down to and including marker.
// Passing a marker that is not live panics.
func (s *StackAllocator) Deallocate(marker Marker) {
	assertTrue(s.isLive(marker), "stack: marker %d is not live (top %d)", marker, s.top().id)
	s.popTo(uint32(marker))
}

// TryDeallocate is Deallocate for untrusted markers.
func (s *StackAllocator) TryDeallocate(marker Marker) error {
	if !s.isLive(marker) {
		return errors.Wrapf(ErrValidationFailed, "stack: marker %d is not live (top %d)", marker, s.top().id)
	}
	s.popTo(uint32(marker))
	return nil
}

func (s *StackAllocator) popTo(id uint32) {
	for s.size > 0 {
		m := readMarker(s.memory, s.size-markerSize)
		s.size -= int(m.size) + markerSize
		if m.id == id {
			return
		}
	}
}

// Clear drops every allocation in O(1).
func (s *StackAllocator) Clear() {
	s.size = 0
}

// VisitAllocations calls fn for each live allocation, most recent first.
func (s *StackAllocator) VisitAllocations(fn func(marker Marker, offset int, size int)) {
	off := s.size
	for off > 0 {
		m := readMarker(s.memory, off-markerSize)
		dataOff := off - markerSize - int(m.size)
		fn(Marker(m.id), dataOff, int(m.size))
		off = dataOff
	}
}

// Validate checks that the marker chain is consistent with the stack size.
func (s *StackAllocator) Validate() error {
	if s.size < 0 || s.size > s.Capacity() {
		return errors.Newf("stack size %d is outside [0, %d]", s.size, s.Capacity())
	}
	off := s.size
	want := s.top().id
	for off > 0 {
		if off < markerSize {
			return errors.Newf("stack offset %d cannot hold a marker", off)
		}
		m := readMarker(s.memory, off-markerSize)
		if m.id != want {
			return errors.Newf("marker at offset %d has id %d, expected %d", off-markerSize, m.id, want)
		}
		if m.size > uint64(off-markerSize) {
			return errors.Newf("marker %d claims %d bytes but only %d precede it", m.id, m.size, off-markerSize)
		}
		off -= markerSize + int(m.size)
		want--
	}
	if want != 0 {
		return errors.Newf("marker chain ended with %d markers unaccounted for", want)
	}
	return nil
}

// Metrics ...
func (s *StackAllocator) Metrics() Metrics {
	return newMetrics(s.size, s.Capacity(), s.peak, int(s.top().id))
}

// PrintDetailedMap writes the metrics and the live allocations, oldest first.
func (s *StackAllocator) PrintDetailedMap(w *jwriter.Writer) {
	obj := w.Object()
	s.Metrics().writeFields(&obj)
	printStackAllocations(obj.Name("allocations_map"), s.VisitAllocations)
	obj.End()
}

func printStackAllocations(w *jwriter.Writer, visit func(fn func(marker Marker, offset int, size int))) {
	type entry struct {
		marker Marker
		offset int
		size   int
	}
	var entries []entry
	visit(func(marker Marker, offset int, size int) {
		entries = append(entries, entry{marker: marker, offset: offset, size: size})
	})

	arr := w.Array()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		item := arr.Object()
		item.Name("marker").Int(int(e.marker))
		item.Name("offset").Int(e.offset)
		item.Name("size").Int(e.size)
		item.End()
	}
	arr.End()
}

// Move transfers the block and all live allocations to a new allocator and leaves s empty.
func (s *StackAllocator) Move() *StackAllocator {
	moved := &StackAllocator{
		SubAllocator: s.SubAllocator.move(),
		size:         s.size,
		peak:         s.peak,
	}
	s.size = 0
	s.peak = 0
	return moved
}

// Destroy hands the block back through the deallocate callback.
func (s *StackAllocator) Destroy() {
	s.destroy("stack")
	s.size = 0
}

// NewValue allocates a zeroed, aligned T on the stack. T must not contain pointers.
func NewValue[T any](s *StackAllocator) (*T, Marker, error) {
	assertPointerFree[T]()

	var zero T
	mem, marker, err := s.AllocateAligned(int(unsafe.Sizeof(zero)), unsafe.Alignof(zero))
	if err != nil {
		return nil, 0, err
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(mem))), marker, nil
}

// NewSlice allocates n zeroed, aligned elements of T on the stack. T must not contain pointers.
func NewSlice[T any](s *StackAllocator, n int) ([]T, Marker, error) {
	assertPointerFree[T]()
	assertTrue(n >= 0, "stack: negative element count %d", n)

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if n > 0 && elemSize > (s.Capacity()/n) {
		return nil, 0, errors.Wrapf(ErrOutOfMemory, "stack: %d elements of %d bytes exceed capacity %d", n, elemSize, s.Capacity())
	}

	mem, marker, err := s.AllocateAligned(elemSize*n, unsafe.Alignof(zero))
	if err != nil {
		return nil, 0, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(mem))), n), marker, nil
}

// ResizeSlice grows or shrinks the top allocation holding values, which must
// come from NewSlice with the given marker, to n elements. Existing elements
// are kept and new ones are zeroed.
func ResizeSlice[T any](s *StackAllocator, values []T, marker Marker, n int) ([]T, error) {
	assertPointerFree[T]()
	assertTrue(n >= 0, "stack: negative element count %d", n)

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if n > 0 && elemSize > (s.Capacity()/n) {
		return nil, errors.Wrapf(ErrOutOfMemory, "stack: %d elements of %d bytes exceed capacity %d", n, elemSize, s.Capacity())
	}

	top := s.top()
	assertTrue(marker != 0 && uint32(marker) == top.id, "stack: marker %d is not the top (top %d)", marker, top.id)

	start := s.size - markerSize - int(top.size)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(s.memory))) + uintptr(start)
	shift := uintptr(unsafe.Pointer(unsafe.SliceData(values))) - base
	assertTrue(uint64(shift) <= top.size, "stack: slice does not belong to marker %d", marker)

	mem, err := s.Resize(marker, int(shift)+elemSize*n)
	if err != nil {
		return nil, err
	}
	ptr := unsafe.Add(unsafe.Pointer(unsafe.SliceData(mem)), shift)
	return unsafe.Slice((*T)(ptr), n), nil
}
