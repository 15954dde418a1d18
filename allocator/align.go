package allocator

import (
	"math/bits"
	"unsafe"
)

// MaxShiftAlignment is the largest alignment AlignMemory can record in its shift byte.
const MaxShiftAlignment = 256

func isPowerOfTwo(v uintptr) bool {
	return v != 0 && bits.OnesCount64(uint64(v)) == 1
}

// AlignAddress rounds addr up to the next multiple of align, which must be a power of two.
func AlignAddress(addr uintptr, align uintptr) uintptr {
	assertTrue(isPowerOfTwo(align), "alignment %d is not a power of two", align)
	mask := align - 1
	return (addr + mask) &^ mask
}

// IsAligned ...
func IsAligned(p unsafe.Pointer, align uintptr) bool {
	return uintptr(p)&(align-1) == 0
}

// AlignMemory shifts p forward to the next address aligned to align and stores
// the shift in the byte right before the result. The caller must provide align
// spare bytes after p: the shift is always in [1, align], a full align when p is
// already aligned, so there is always room for the shift byte.
func AlignMemory(p unsafe.Pointer, align uintptr) unsafe.Pointer {
	assertTrue(p != nil, "AlignMemory called with nil pointer")
	assertTrue(align <= MaxShiftAlignment, "alignment %d exceeds %d", align, MaxShiftAlignment)

	addr := uintptr(p)
	shift := AlignAddress(addr, align) - addr
	if shift == 0 {
		shift = align
	}

	aligned := unsafe.Add(p, shift)
	// 256 wraps to 0
	*(*byte)(unsafe.Add(aligned, -1)) = byte(shift)
	return aligned
}

// UnalignMemory returns the original pointer passed to AlignMemory.
func UnalignMemory(p unsafe.Pointer) unsafe.Pointer {
	assertTrue(p != nil, "UnalignMemory called with nil pointer")

	shift := int(*(*byte)(unsafe.Add(p, -1)))
	if shift == 0 {
		shift = MaxShiftAlignment
	}
	return unsafe.Add(p, -shift)
}

// alignSlice returns the size-byte window of b that AlignMemory picks for align.
// b must hold at least size+align bytes.
func alignSlice(b []byte, size int, align uintptr) []byte {
	assertTrue(len(b) >= size+int(align), "slice of %d bytes cannot hold %d aligned to %d", len(b), size, align)
	base := unsafe.Pointer(unsafe.SliceData(b))
	start := int(uintptr(AlignMemory(base, align)) - uintptr(base))
	return b[start : start+size : start+size]
}

// assertShiftAlignment checks an alignment before any bytes are reserved for it.
func assertShiftAlignment(kind string, align uintptr) {
	assertTrue(isPowerOfTwo(align), "%s: alignment %d is not a power of two", kind, align)
	assertTrue(align <= MaxShiftAlignment, "%s: alignment %d exceeds %d", kind, align, MaxShiftAlignment)
}
