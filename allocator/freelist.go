package allocator

import (
	"encoding/binary"
	"math"
	"unsafe"
)

const pointerSize = int(unsafe.Sizeof(uintptr(0)))

type freeIndex interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// chunkList is a singly linked free list threaded through the free chunks themselves.
type chunkList interface {
	reset()
	pop() (int, bool)
	push(index int)
	indexWidth() int
	contentOfList() []int
}

// freeList stores, inside each free chunk, the index of the next free chunk as
// an I. The max value of I terminates the list.
type freeList[I freeIndex] struct {
	data      []byte
	chunkSize int
	numChunks int
	head      I
}

func newFreeList[I freeIndex](data []byte, chunkSize int, numChunks int) *freeList[I] {
	l := &freeList[I]{
		data:      data,
		chunkSize: chunkSize,
		numChunks: numChunks,
	}
	l.reset()
	return l
}

func (l *freeList[I]) nullIndex() I {
	return ^I(0)
}

func (l *freeList[I]) indexWidth() int {
	return int(unsafe.Sizeof(I(0)))
}

func (l *freeList[I]) load(index I) I {
	b := l.data[int(index)*l.chunkSize:]
	switch l.indexWidth() {
	case 1:
		return I(b[0])
	case 2:
		return I(binary.LittleEndian.Uint16(b))
	case 4:
		return I(binary.LittleEndian.Uint32(b))
	default:
		return I(binary.LittleEndian.Uint64(b))
	}
}

func (l *freeList[I]) store(index I, next I) {
	b := l.data[int(index)*l.chunkSize:]
	switch l.indexWidth() {
	case 1:
		b[0] = uint8(next)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(next))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(next))
	default:
		binary.LittleEndian.PutUint64(b, uint64(next))
	}
}

// reset threads every chunk in address order.
func (l *freeList[I]) reset() {
	if l.numChunks == 0 {
		l.head = l.nullIndex()
		return
	}
	for i := 0; i < l.numChunks-1; i++ {
		l.store(I(i), I(i+1))
	}
	l.store(I(l.numChunks-1), l.nullIndex())
	l.head = 0
}

func (l *freeList[I]) pop() (int, bool) {
	if l.head == l.nullIndex() {
		return 0, false
	}
	index := l.head
	l.head = l.load(index)
	return int(index), true
}

func (l *freeList[I]) push(index int) {
	l.store(I(index), l.head)
	l.head = I(index)
}

// contentOfList stops after numChunks+1 entries so a corrupted, cyclic list still terminates.
func (l *freeList[I]) contentOfList() []int {
	var result []int
	for n := l.head; n != l.nullIndex() && len(result) <= l.numChunks; n = l.load(n) {
		result = append(result, int(n))
		if int(n) >= l.numChunks {
			break
		}
	}
	return result
}

// newChunkList picks the encoding: chunks that can hold a pointer store a
// pointer-width index, smaller chunks the narrowest index covering numChunks.
func newChunkList(data []byte, chunkSize int, numChunks int) chunkList {
	switch {
	case chunkSize >= pointerSize:
		return newFreeList[uintptr](data, chunkSize, numChunks)
	case numChunks <= math.MaxUint8:
		return newFreeList[uint8](data, chunkSize, numChunks)
	case numChunks <= math.MaxUint16 && chunkSize >= 2:
		return newFreeList[uint16](data, chunkSize, numChunks)
	case uint64(numChunks) <= math.MaxUint32 && chunkSize >= 4:
		return newFreeList[uint32](data, chunkSize, numChunks)
	}
	panic(assertionFailure("pool: %d chunks cannot be indexed inside %d-byte chunks", numChunks, chunkSize))
}
