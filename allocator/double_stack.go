package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// DoubleStackAllocator runs two marker stacks over one block: the lower stack
// grows up from the beginning, the upper stack grows down from the end.
// Lower and upper markers are distinct types and cannot be mixed up.
//
// Lower layout: [data][marker] with the top marker ending at sizeLower.
// Upper layout: [marker][data] with the top marker starting at capacity-sizeUpper.
type DoubleStackAllocator struct {
	SubAllocator

	sizeLower int
	sizeUpper int
	peak      int
}

// NewDoubleStackAllocator ...
func NewDoubleStackAllocator(memory []byte, deallocate DeallocateFunc, opts ...Option) *DoubleStackAllocator {
	return &DoubleStackAllocator{
		SubAllocator: newSubAllocator(memory, deallocate, opts),
	}
}

// Size returns the bytes in use by both ends.
func (d *DoubleStackAllocator) Size() int {
	return d.sizeLower + d.sizeUpper
}

// SizeLower ...
func (d *DoubleStackAllocator) SizeLower() int {
	return d.sizeLower
}

// SizeUpper ...
func (d *DoubleStackAllocator) SizeUpper() int {
	return d.sizeUpper
}

// Remaining returns the gap between the two stacks.
func (d *DoubleStackAllocator) Remaining() int {
	return d.Capacity() - d.sizeLower - d.sizeUpper
}

// IsEmpty ...
func (d *DoubleStackAllocator) IsEmpty() bool {
	return d.sizeLower == 0 && d.sizeUpper == 0
}

func (d *DoubleStackAllocator) topLower() markerHeader {
	if d.sizeLower == 0 {
		return markerHeader{}
	}
	return readMarker(d.memory, d.sizeLower-markerSize)
}

func (d *DoubleStackAllocator) topUpper() markerHeader {
	if d.sizeUpper == 0 {
		return markerHeader{}
	}
	return readMarker(d.memory, d.Capacity()-d.sizeUpper)
}

// TopLowerMarker ...
func (d *DoubleStackAllocator) TopLowerMarker() LowerMarker {
	return LowerMarker(d.topLower().id)
}

// TopUpperMarker ...
func (d *DoubleStackAllocator) TopUpperMarker() UpperMarker {
	return UpperMarker(d.topUpper().id)
}

func (d *DoubleStackAllocator) updatePeak() {
	if size := d.Size(); size > d.peak {
		d.peak = size
	}
}

// AllocateLower reserves size zeroed bytes at the lower end.
func (d *DoubleStackAllocator) AllocateLower(size int) ([]byte, LowerMarker, error) {
	assertTrue(size >= 0, "double stack: negative allocation size %d", size)

	if !fitsWithMarker(size, d.Remaining()) {
		return nil, 0, outOfMemory("double stack lower", size+markerSize, d.Remaining())
	}

	start := d.sizeLower
	mem := d.memory[start : start+size : start+size]
	clear(mem)

	id := d.topLower().id + 1
	writeMarker(d.memory, start+size, markerHeader{size: uint64(size), id: id})

	d.sizeLower += size + markerSize
	d.updatePeak()
	return mem, LowerMarker(id), nil
}

// AllocateUpper reserves size zeroed bytes at the upper end.
func (d *DoubleStackAllocator) AllocateUpper(size int) ([]byte, UpperMarker, error) {
	assertTrue(size >= 0, "double stack: negative allocation size %d", size)

	if !fitsWithMarker(size, d.Remaining()) {
		return nil, 0, outOfMemory("double stack upper", size+markerSize, d.Remaining())
	}

	id := d.topUpper().id + 1

	d.sizeUpper += size + markerSize
	markerOff := d.Capacity() - d.sizeUpper
	writeMarker(d.memory, markerOff, markerHeader{size: uint64(size), id: id})

	start := markerOff + markerSize
	mem := d.memory[start : start+size : start+size]
	clear(mem)

	d.updatePeak()
	return mem, UpperMarker(id), nil
}

// AllocateLowerAligned is AllocateLower with the start aligned to align.
func (d *DoubleStackAllocator) AllocateLowerAligned(size int, align uintptr) ([]byte, LowerMarker, error) {
	assertShiftAlignment("double stack", align)

	mem, marker, err := d.AllocateLower(size + int(align))
	if err != nil {
		return nil, 0, err
	}
	return alignSlice(mem, size, align), marker, nil
}

// AllocateUpperAligned is AllocateUpper with the start aligned to align.
func (d *DoubleStackAllocator) AllocateUpperAligned(size int, align uintptr) ([]byte, UpperMarker, error) {
	assertShiftAlignment("double stack", align)

	mem, marker, err := d.AllocateUpper(size + int(align))
	if err != nil {
		return nil, 0, err
	}
	return alignSlice(mem, size, align), marker, nil
}

func (d *DoubleStackAllocator) isLiveLower(marker LowerMarker) bool {
	return marker != 0 && uint32(marker) <= d.topLower().id
}

func (d *DoubleStackAllocator) isLiveUpper(marker UpperMarker) bool {
	return marker != 0 && uint32(marker) <= d.topUpper().id
}

// DeallocateLower pops lower allocations down to and including marker.
func (d *DoubleStackAllocator) DeallocateLower(marker LowerMarker) {
	assertTrue(d.isLiveLower(marker), "double stack: lower marker %d is not live (top %d)", marker, d.topLower().id)
	d.popLowerTo(uint32(marker))
}

// DeallocateUpper pops upper allocations down to and including marker.
func (d *DoubleStackAllocator) DeallocateUpper(marker UpperMarker) {
	assertTrue(d.isLiveUpper(marker), "double stack: upper marker %d is not live (top %d)", marker, d.topUpper().id)
	d.popUpperTo(uint32(marker))
}

// TryDeallocateLower ...
func (d *DoubleStackAllocator) TryDeallocateLower(marker LowerMarker) error {
	if !d.isLiveLower(marker) {
		return errors.Wrapf(ErrValidationFailed, "double stack: lower marker %d is not live (top %d)", marker, d.topLower().id)
	}
	d.popLowerTo(uint32(marker))
	return nil
}

// TryDeallocateUpper ...
func (d *DoubleStackAllocator) TryDeallocateUpper(marker UpperMarker) error {
	if !d.isLiveUpper(marker) {
		return errors.Wrapf(ErrValidationFailed, "double stack: upper marker %d is not live (top %d)", marker, d.topUpper().id)
	}
	d.popUpperTo(uint32(marker))
	return nil
}

func (d *DoubleStackAllocator) popLowerTo(id uint32) {
	for d.sizeLower > 0 {
		m := readMarker(d.memory, d.sizeLower-markerSize)
		d.sizeLower -= int(m.size) + markerSize
		if m.id == id {
			return
		}
	}
}

func (d *DoubleStackAllocator) popUpperTo(id uint32) {
	for d.sizeUpper > 0 {
		m := readMarker(d.memory, d.Capacity()-d.sizeUpper)
		d.sizeUpper -= int(m.size) + markerSize
		if m.id == id {
			return
		}
	}
}

// ClearLower ...
func (d *DoubleStackAllocator) ClearLower() {
	d.sizeLower = 0
}

// ClearUpper ...
func (d *DoubleStackAllocator) ClearUpper() {
	d.sizeUpper = 0
}

// Clear drops both stacks.
func (d *DoubleStackAllocator) Clear() {
	d.ClearLower()
	d.ClearUpper()
}

// VisitLowerAllocations calls fn for each live lower allocation, most recent first.
func (d *DoubleStackAllocator) VisitLowerAllocations(fn func(marker Marker, offset int, size int)) {
	off := d.sizeLower
	for off > 0 {
		m := readMarker(d.memory, off-markerSize)
		dataOff := off - markerSize - int(m.size)
		fn(Marker(m.id), dataOff, int(m.size))
		off = dataOff
	}
}

// VisitUpperAllocations calls fn for each live upper allocation, most recent first.
func (d *DoubleStackAllocator) VisitUpperAllocations(fn func(marker Marker, offset int, size int)) {
	used := d.sizeUpper
	for used > 0 {
		markerOff := d.Capacity() - used
		m := readMarker(d.memory, markerOff)
		fn(Marker(m.id), markerOff+markerSize, int(m.size))
		used -= markerSize + int(m.size)
	}
}

// Validate checks both marker chains and that the stacks do not overlap.
func (d *DoubleStackAllocator) Validate() error {
	if d.sizeLower < 0 || d.sizeUpper < 0 || d.sizeLower+d.sizeUpper > d.Capacity() {
		return errors.Newf("lower %d + upper %d exceed capacity %d", d.sizeLower, d.sizeUpper, d.Capacity())
	}
	if err := d.validateLower(); err != nil {
		return err
	}
	return d.validateUpper()
}

func (d *DoubleStackAllocator) validateLower() error {
	if d.sizeLower > 0 && d.sizeLower < markerSize {
		return errors.Newf("lower size %d cannot hold a marker", d.sizeLower)
	}
	off := d.sizeLower
	want := d.topLower().id
	for off > 0 {
		if off < markerSize {
			return errors.Newf("lower offset %d cannot hold a marker", off)
		}
		m := readMarker(d.memory, off-markerSize)
		if m.id != want {
			return errors.Newf("lower marker at offset %d has id %d, expected %d", off-markerSize, m.id, want)
		}
		if m.size > uint64(off-markerSize) {
			return errors.Newf("lower marker %d claims %d bytes but only %d precede it", m.id, m.size, off-markerSize)
		}
		off -= markerSize + int(m.size)
		want--
	}
	if want != 0 {
		return errors.Newf("lower marker chain ended with %d markers unaccounted for", want)
	}
	return nil
}

func (d *DoubleStackAllocator) validateUpper() error {
	if d.sizeUpper > 0 && d.sizeUpper < markerSize {
		return errors.Newf("upper size %d cannot hold a marker", d.sizeUpper)
	}
	used := d.sizeUpper
	want := d.topUpper().id
	for used > 0 {
		if used < markerSize {
			return errors.Newf("upper offset %d cannot hold a marker", d.Capacity()-used)
		}
		markerOff := d.Capacity() - used
		m := readMarker(d.memory, markerOff)
		if m.id != want {
			return errors.Newf("upper marker at offset %d has id %d, expected %d", markerOff, m.id, want)
		}
		if m.size > uint64(used-markerSize) {
			return errors.Newf("upper marker %d claims %d bytes but only %d follow it", m.id, m.size, used-markerSize)
		}
		used -= markerSize + int(m.size)
		want--
	}
	if want != 0 {
		return errors.Newf("upper marker chain ended with %d markers unaccounted for", want)
	}
	return nil
}

// Metrics ...
func (d *DoubleStackAllocator) Metrics() Metrics {
	return newMetrics(d.Size(), d.Capacity(), d.peak, int(d.topLower().id+d.topUpper().id))
}

// PrintDetailedMap writes the metrics and both allocation maps.
func (d *DoubleStackAllocator) PrintDetailedMap(w *jwriter.Writer) {
	obj := w.Object()
	d.Metrics().writeFields(&obj)
	obj.Name("size_lower").Int(d.sizeLower)
	obj.Name("size_upper").Int(d.sizeUpper)
	printStackAllocations(obj.Name("lower_map"), d.VisitLowerAllocations)
	printStackAllocations(obj.Name("upper_map"), d.VisitUpperAllocations)
	obj.End()
}

// Move transfers the block and both stacks to a new allocator and leaves d empty.
func (d *DoubleStackAllocator) Move() *DoubleStackAllocator {
	moved := &DoubleStackAllocator{
		SubAllocator: d.SubAllocator.move(),
		sizeLower:    d.sizeLower,
		sizeUpper:    d.sizeUpper,
		peak:         d.peak,
	}
	d.sizeLower = 0
	d.sizeUpper = 0
	d.peak = 0
	return moved
}

// Destroy hands the block back through the deallocate callback.
func (d *DoubleStackAllocator) Destroy() {
	d.destroy("double stack")
	d.sizeLower = 0
	d.sizeUpper = 0
}
