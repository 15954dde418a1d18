package allocator

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Pool hands out fixed-size chunks holding one T each, in any order, in O(1).
// Free chunks are linked through their own storage, so there is no per-chunk overhead.
// When aligned is set every chunk reserves alignof(T) extra bytes and the
// returned pointer is aligned with AlignMemory.
type Pool[T any] struct {
	SubAllocator

	chunkSize int
	numChunks int
	aligned   bool
	align     uintptr

	free      chunkList
	live      []uint64
	allocated int
	peak      int
}

// ChunkSizeOf returns the chunk size a Pool[T] uses.
func ChunkSizeOf[T any](aligned bool) int {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if aligned {
		size += int(unsafe.Alignof(zero))
	}
	return size
}

// NewPool manages memory as len(memory)/ChunkSizeOf[T](aligned) chunks.
// T must be non-empty and must not contain pointers.
func NewPool[T any](memory []byte, aligned bool, deallocate DeallocateFunc, opts ...Option) *Pool[T] {
	assertPointerFree[T]()

	var zero T
	assertTrue(unsafe.Sizeof(zero) > 0, "pool: zero-sized element type")

	chunkSize := ChunkSizeOf[T](aligned)
	assertTrue(len(memory)%chunkSize == 0, "pool: block of %d bytes is not a multiple of chunk size %d", len(memory), chunkSize)

	align := unsafe.Alignof(zero)
	if !aligned && len(memory) > 0 {
		assertTrue(IsAligned(unsafe.Pointer(unsafe.SliceData(memory)), align),
			"pool: block is not aligned to %d, use an aligned pool", align)
	}

	numChunks := len(memory) / chunkSize
	return &Pool[T]{
		SubAllocator: newSubAllocator(memory, deallocate, opts),
		chunkSize:    chunkSize,
		numChunks:    numChunks,
		aligned:      aligned,
		align:        align,
		free:         newChunkList(memory, chunkSize, numChunks),
		live:         make([]uint64, (numChunks+63)/64),
	}
}

// ChunkSize ...
func (p *Pool[T]) ChunkSize() int {
	return p.chunkSize
}

// NumChunks ...
func (p *Pool[T]) NumChunks() int {
	return p.numChunks
}

// Allocated returns the number of chunks in use.
func (p *Pool[T]) Allocated() int {
	return p.allocated
}

// Free returns the number of chunks available.
func (p *Pool[T]) Free() int {
	return p.numChunks - p.allocated
}

// IsAlignedPool ...
func (p *Pool[T]) IsAlignedPool() bool {
	return p.aligned
}

// isLive reports whether the chunk at index is allocated.
func (p *Pool[T]) isLive(index int) bool {
	return p.live[index/64]&(1<<(index%64)) != 0
}

func (p *Pool[T]) setLive(index int, live bool) {
	if live {
		p.live[index/64] |= 1 << (index % 64)
	} else {
		p.live[index/64] &^= 1 << (index % 64)
	}
}

func (p *Pool[T]) chunk(index int) []byte {
	start := index * p.chunkSize
	return p.memory[start : start+p.chunkSize : start+p.chunkSize]
}

// Allocate pops a chunk off the free list and returns it zeroed.
func (p *Pool[T]) Allocate() (*T, error) {
	if p.free == nil {
		return nil, errors.Wrap(ErrOutOfMemory, "pool: no block")
	}

	index, ok := p.free.pop()
	if !ok {
		return nil, errors.Wrapf(ErrOutOfMemory, "pool: all %d chunks of %d bytes are in use", p.numChunks, p.chunkSize)
	}

	chunk := p.chunk(index)
	clear(chunk)

	ptr := unsafe.Pointer(unsafe.SliceData(chunk))
	if p.aligned {
		ptr = AlignMemory(ptr, p.align)
	}

	p.setLive(index, true)
	p.allocated++
	if p.allocated > p.peak {
		p.peak = p.allocated
	}
	return (*T)(ptr), nil
}

func (p *Pool[T]) contains(ptr unsafe.Pointer) (uintptr, bool) {
	if len(p.memory) == 0 || ptr == nil {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.memory)))
	addr := uintptr(ptr)
	if addr < base || addr >= base+uintptr(len(p.memory)) {
		return 0, false
	}
	return addr - base, true
}

// chunkIndex maps a pointer returned by Allocate back to its chunk.
func (p *Pool[T]) chunkIndex(v *T) (int, bool) {
	ptr := unsafe.Pointer(v)
	off, ok := p.contains(ptr)
	if !ok {
		return 0, false
	}

	if p.aligned {
		if int(off)%p.chunkSize == 0 {
			// AlignMemory always shifts by at least one byte
			return 0, false
		}
		off, ok = p.contains(UnalignMemory(ptr))
		if !ok {
			return 0, false
		}
	}

	if int(off)%p.chunkSize != 0 {
		return 0, false
	}
	return int(off) / p.chunkSize, true
}

// Index returns the chunk index of v, a pointer returned by Allocate.
func (p *Pool[T]) Index(v *T) (int, bool) {
	return p.chunkIndex(v)
}

// At returns the pointer Allocate handed out for the chunk at index.
// The result is only meaningful while that chunk is allocated.
func (p *Pool[T]) At(index int) *T {
	assertTrue(index >= 0 && index < p.numChunks, "pool: chunk %d outside [0, %d)", index, p.numChunks)

	ptr := unsafe.Pointer(unsafe.SliceData(p.chunk(index)))
	if p.aligned {
		addr := uintptr(ptr)
		ptr = unsafe.Add(ptr, AlignAddress(addr+1, p.align)-addr)
	}
	return (*T)(ptr)
}

// Deallocate returns v's chunk to the free list. Foreign pointers and chunks
// that are already free panic.
func (p *Pool[T]) Deallocate(v *T) {
	index, ok := p.chunkIndex(v)
	assertTrue(ok, "pool: pointer %p was not allocated from this pool", v)
	assertTrue(p.isLive(index), "pool: chunk %d is already free", index)
	p.release(index)
}

// TryDeallocate is Deallocate for untrusted pointers.
func (p *Pool[T]) TryDeallocate(v *T) error {
	index, ok := p.chunkIndex(v)
	if !ok {
		return errors.Wrapf(ErrValidationFailed, "pool: pointer %p was not allocated from this pool", v)
	}
	if !p.isLive(index) {
		return errors.Wrapf(ErrValidationFailed, "pool: chunk %d is already free", index)
	}
	p.release(index)
	return nil
}

func (p *Pool[T]) release(index int) {
	p.setLive(index, false)
	p.free.push(index)
	p.allocated--
}

// Clear returns every chunk to the free list, in address order.
func (p *Pool[T]) Clear() {
	if p.free != nil {
		p.free.reset()
	}
	clear(p.live)
	p.allocated = 0
}

func (p *Pool[T]) contentOfList() []int {
	if p.free == nil {
		return nil
	}
	return p.free.contentOfList()
}

// Validate walks the free list and checks it against the allocation count.
func (p *Pool[T]) Validate() error {
	if p.free == nil {
		if p.allocated != 0 {
			return errors.Newf("pool without block reports %d allocations", p.allocated)
		}
		return nil
	}

	seen := make(map[int]struct{}, p.Free())
	for _, n := range p.free.contentOfList() {
		if n < 0 || n >= p.numChunks {
			return errors.Newf("free list references chunk %d outside [0, %d)", n, p.numChunks)
		}
		if _, ok := seen[n]; ok {
			return errors.Newf("free list visits chunk %d twice", n)
		}
		if p.isLive(n) {
			return errors.Newf("chunk %d is both free and allocated", n)
		}
		seen[n] = struct{}{}
	}
	if len(seen) != p.Free() {
		return errors.Newf("free list holds %d chunks, expected %d", len(seen), p.Free())
	}
	return nil
}

// Metrics ...
func (p *Pool[T]) Metrics() Metrics {
	return newMetrics(p.allocated*p.chunkSize, p.Capacity(), p.peak*p.chunkSize, p.allocated)
}

// PrintDetailedMap writes the metrics and the pool geometry.
func (p *Pool[T]) PrintDetailedMap(w *jwriter.Writer) {
	obj := w.Object()
	p.Metrics().writeFields(&obj)
	obj.Name("chunk_size").Int(p.chunkSize)
	obj.Name("num_chunks").Int(p.numChunks)
	obj.Name("aligned").Bool(p.aligned)
	if p.free != nil {
		obj.Name("index_width").Int(p.free.indexWidth())
	}
	obj.End()
}

// Move transfers the block and the free list to a new pool and leaves p empty.
func (p *Pool[T]) Move() *Pool[T] {
	moved := &Pool[T]{
		SubAllocator: p.SubAllocator.move(),
		chunkSize:    p.chunkSize,
		numChunks:    p.numChunks,
		aligned:      p.aligned,
		align:        p.align,
		free:         p.free,
		live:         p.live,
		allocated:    p.allocated,
		peak:         p.peak,
	}
	p.free = nil
	p.live = nil
	p.numChunks = 0
	p.allocated = 0
	p.peak = 0
	return moved
}

// Destroy hands the block back through the deallocate callback.
func (p *Pool[T]) Destroy() {
	p.destroy("pool")
	p.free = nil
	p.live = nil
	p.numChunks = 0
	p.allocated = 0
}
