package allocator

import "encoding/binary"

// markerSize matches a 64-bit {size_t, uint32} struct including tail padding.
const markerSize = 16

// Marker identifies a StackAllocator allocation. IDs start at 1, 0 means none.
type Marker uint32

// LowerMarker identifies an allocation made with DoubleStackAllocator.AllocateLower.
type LowerMarker uint32

// UpperMarker identifies an allocation made with DoubleStackAllocator.AllocateUpper.
type UpperMarker uint32

// markerHeader is the inline record stored next to every stack allocation.
type markerHeader struct {
	size uint64
	id   uint32
}

func readMarker(data []byte, off int) markerHeader {
	b := data[off : off+markerSize]
	return markerHeader{
		size: binary.LittleEndian.Uint64(b[0:8]),
		id:   binary.LittleEndian.Uint32(b[8:12]),
	}
}

func writeMarker(data []byte, off int, m markerHeader) {
	b := data[off : off+markerSize]
	binary.LittleEndian.PutUint64(b[0:8], m.size)
	binary.LittleEndian.PutUint32(b[8:12], m.id)
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

// fitsWithMarker reports whether size bytes plus a marker fit in remaining.
func fitsWithMarker(size int, remaining int) bool {
	if remaining < markerSize {
		return false
	}
	return size <= remaining-markerSize
}
