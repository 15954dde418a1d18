package allocator

import (
	"encoding/json"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"unsafe"
)

func newTestDoubleStack(capacity int) (*DoubleStackAllocator, []byte) {
	data := make([]byte, capacity)
	return NewDoubleStackAllocator(data, func(memory *[]byte) { *memory = nil }), data
}

func assertDoubleStackInvariant(t *testing.T, d *DoubleStackAllocator) {
	t.Helper()
	assert.Equal(t, d.Capacity(), d.SizeLower()+d.SizeUpper()+d.Remaining())
	assert.NoError(t, d.Validate())
}

func TestNewDoubleStackAllocator(t *testing.T) {
	d, _ := newTestDoubleStack(256)

	assert.Equal(t, 256, d.Capacity())
	assert.Equal(t, 0, d.SizeLower())
	assert.Equal(t, 0, d.SizeUpper())
	assert.Equal(t, 256, d.Remaining())
	assert.True(t, d.IsEmpty())
	assert.Equal(t, LowerMarker(0), d.TopLowerMarker())
	assert.Equal(t, UpperMarker(0), d.TopUpperMarker())
	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_Layout(t *testing.T) {
	d, data := newTestDoubleStack(256)

	lower, lm, err := d.AllocateLower(16)
	require.NoError(t, err)
	assert.Equal(t, LowerMarker(1), lm)
	assert.Equal(t, unsafe.Pointer(&data[0]), unsafe.Pointer(&lower[0]))
	assert.Equal(t, markerHeader{size: 16, id: 1}, readMarker(data, 16))

	upper, um, err := d.AllocateUpper(32)
	require.NoError(t, err)
	assert.Equal(t, UpperMarker(1), um)
	assert.Equal(t, 32, len(upper))
	assert.Equal(t, 32, cap(upper))
	assert.Equal(t, unsafe.Pointer(&data[256-32]), unsafe.Pointer(&upper[0]))
	assert.Equal(t, markerHeader{size: 32, id: 1}, readMarker(data, 256-32-markerSize))

	assert.Equal(t, 16+markerSize, d.SizeLower())
	assert.Equal(t, 32+markerSize, d.SizeUpper())
	assert.Equal(t, 256-16-32-2*markerSize, d.Remaining())
	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_Independence(t *testing.T) {
	d, _ := newTestDoubleStack(512)

	_, _, err := d.AllocateUpper(40)
	require.NoError(t, err)
	upperSize := d.SizeUpper()

	for i := 0; i < 5; i++ {
		_, lm, err := d.AllocateLower(10)
		require.NoError(t, err)
		assert.Equal(t, LowerMarker(i+1), lm)
		assert.Equal(t, upperSize, d.SizeUpper())
	}
	lowerSize := d.SizeLower()

	_, um, err := d.AllocateUpper(8)
	require.NoError(t, err)
	assert.Equal(t, UpperMarker(2), um)
	assert.Equal(t, lowerSize, d.SizeLower())

	d.DeallocateLower(1)
	assert.Equal(t, 0, d.SizeLower())
	assert.Equal(t, upperSize+8+markerSize, d.SizeUpper())
	assertDoubleStackInvariant(t, d)

	d.DeallocateUpper(um)
	assert.Equal(t, upperSize, d.SizeUpper())
	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_SharedCapacity(t *testing.T) {
	d, _ := newTestDoubleStack(64)

	_, _, err := d.AllocateLower(16)
	require.NoError(t, err)

	_, _, err = d.AllocateUpper(17)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 0, d.SizeUpper())

	_, _, err = d.AllocateUpper(16)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Remaining())

	_, _, err = d.AllocateLower(0)
	assert.Equal(t, ErrorOutOfMemory, ResultOf(err))
	_, _, err = d.AllocateUpper(0)
	assert.Equal(t, ErrorOutOfMemory, ResultOf(err))
	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_PartialUnwindUpper(t *testing.T) {
	d, _ := newTestDoubleStack(512)

	_, u1, err := d.AllocateUpper(10)
	require.NoError(t, err)
	sizeAfterU1 := d.SizeUpper()

	_, u2, err := d.AllocateUpper(20)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(30)
	require.NoError(t, err)

	d.DeallocateUpper(u2)
	assert.Equal(t, sizeAfterU1, d.SizeUpper())
	assert.Equal(t, u1, d.TopUpperMarker())
	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_NoOverlap(t *testing.T) {
	d, _ := newTestDoubleStack(128)

	lower, _, err := d.AllocateLower(40)
	require.NoError(t, err)
	upper, _, err := d.AllocateUpper(40)
	require.NoError(t, err)

	for i := range lower {
		lower[i] = 0xaa
	}
	for i := range upper {
		upper[i] = 0x55
	}

	for _, b := range lower {
		assert.Equal(t, byte(0xaa), b)
	}
	for _, b := range upper {
		assert.Equal(t, byte(0x55), b)
	}
	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_ZeroFill(t *testing.T) {
	d, _ := newTestDoubleStack(128)

	upper, um, err := d.AllocateUpper(24)
	require.NoError(t, err)
	for i := range upper {
		upper[i] = 0xff
	}
	d.DeallocateUpper(um)

	upper, _, err = d.AllocateUpper(24)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 24), upper)
}

func TestDoubleStackAllocator_Clear(t *testing.T) {
	d, _ := newTestDoubleStack(256)

	_, _, err := d.AllocateLower(10)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(10)
	require.NoError(t, err)

	d.ClearLower()
	assert.Equal(t, 0, d.SizeLower())
	assert.Equal(t, 10+markerSize, d.SizeUpper())

	_, _, err = d.AllocateLower(10)
	require.NoError(t, err)

	d.ClearUpper()
	assert.Equal(t, 10+markerSize, d.SizeLower())
	assert.Equal(t, 0, d.SizeUpper())

	d.Clear()
	assert.True(t, d.IsEmpty())
	assert.Equal(t, 256, d.Remaining())
}

func TestDoubleStackAllocator_InvalidMarkers(t *testing.T) {
	d, _ := newTestDoubleStack(256)

	assert.Panics(t, func() { d.DeallocateLower(1) })
	assert.Panics(t, func() { d.DeallocateUpper(1) })

	_, _, err := d.AllocateLower(8)
	require.NoError(t, err)

	assert.Panics(t, func() { d.DeallocateUpper(1) })
	assert.Panics(t, func() { d.DeallocateLower(0) })
	assert.Panics(t, func() { d.DeallocateLower(2) })

	err = d.TryDeallocateUpper(1)
	assert.True(t, errors.Is(err, ErrValidationFailed))
	err = d.TryDeallocateLower(2)
	assert.True(t, errors.Is(err, ErrValidationFailed))
	assert.Equal(t, 8+markerSize, d.SizeLower())

	assert.NoError(t, d.TryDeallocateLower(1))
	assert.Equal(t, 0, d.SizeLower())

	_, _, err = d.AllocateUpper(8)
	require.NoError(t, err)
	assert.NoError(t, d.TryDeallocateUpper(1))
	assert.Equal(t, 0, d.SizeUpper())
}

func TestDoubleStackAllocator_Aligned(t *testing.T) {
	d, _ := newTestDoubleStack(512)

	_, _, err := d.AllocateLower(1)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(3)
	require.NoError(t, err)

	lower, _, err := d.AllocateLowerAligned(20, 32)
	require.NoError(t, err)
	assert.True(t, IsAligned(unsafe.Pointer(&lower[0]), 32))
	assert.Equal(t, 20, len(lower))

	upper, _, err := d.AllocateUpperAligned(20, 32)
	require.NoError(t, err)
	assert.True(t, IsAligned(unsafe.Pointer(&upper[0]), 32))
	assert.Equal(t, 20, len(upper))

	assertDoubleStackInvariant(t, d)
}

func TestDoubleStackAllocator_Aligned_TooLargeLeavesStacksUntouched(t *testing.T) {
	d, _ := newTestDoubleStack(4096)

	assert.Panics(t, func() { _, _, _ = d.AllocateLowerAligned(16, 512) })
	assert.Panics(t, func() { _, _, _ = d.AllocateUpperAligned(16, 512) })
	assert.Panics(t, func() { _, _, _ = d.AllocateUpperAligned(16, 24) })

	assert.True(t, d.IsEmpty())
	assert.Equal(t, 4096, d.Remaining())
}

func TestDoubleStackAllocator_Validate_DetectsCorruption(t *testing.T) {
	table := []struct {
		name    string
		corrupt func(d *DoubleStackAllocator, data []byte)
	}{
		{
			name: "lower-size-too-large",
			corrupt: func(d *DoubleStackAllocator, data []byte) {
				writeMarker(data, d.SizeLower()-markerSize, markerHeader{size: 1 << 40, id: 2})
			},
		},
		{
			name: "lower-wrong-id",
			corrupt: func(d *DoubleStackAllocator, data []byte) {
				writeMarker(data, 10, markerHeader{size: 10, id: 5})
			},
		},
		{
			name: "upper-size-too-large",
			corrupt: func(d *DoubleStackAllocator, data []byte) {
				writeMarker(data, d.Capacity()-d.SizeUpper(), markerHeader{size: 1 << 40, id: 2})
			},
		},
		{
			name: "upper-size-skips-past-end",
			corrupt: func(d *DoubleStackAllocator, data []byte) {
				writeMarker(data, d.Capacity()-d.SizeUpper(), markerHeader{size: 20, id: 2})
			},
		},
		{
			name: "lower-size-cannot-hold-marker",
			corrupt: func(d *DoubleStackAllocator, data []byte) {
				d.sizeLower = 5
			},
		},
		{
			name: "upper-size-cannot-hold-marker",
			corrupt: func(d *DoubleStackAllocator, data []byte) {
				d.sizeUpper = 7
			},
		},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			d, data := newTestDoubleStack(256)

			for i := 0; i < 2; i++ {
				_, _, err := d.AllocateLower(10)
				require.NoError(t, err)
				_, _, err = d.AllocateUpper(10)
				require.NoError(t, err)
			}
			require.NoError(t, d.Validate())

			e.corrupt(d, data)

			assert.NotPanics(t, func() {
				assert.Error(t, d.Validate())
			})
		})
	}
}

func TestDoubleStackAllocator_Visit(t *testing.T) {
	d, _ := newTestDoubleStack(256)

	_, _, err := d.AllocateUpper(10)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(20)
	require.NoError(t, err)

	var offsets []int
	var sizes []int
	d.VisitUpperAllocations(func(marker Marker, offset int, size int) {
		offsets = append(offsets, offset)
		sizes = append(sizes, size)
	})

	assert.Equal(t, []int{256 - 10 - markerSize - 20, 256 - 10}, offsets)
	assert.Equal(t, []int{20, 10}, sizes)
}

func TestDoubleStackAllocator_Metrics_PrintDetailedMap(t *testing.T) {
	d, _ := newTestDoubleStack(256)

	_, _, err := d.AllocateLower(16)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(16)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(16)
	require.NoError(t, err)

	m := d.Metrics()
	assert.Equal(t, 96, m.Size)
	assert.Equal(t, 160, m.Remaining)
	assert.Equal(t, 96, m.Peak)
	assert.Equal(t, 3, m.Allocations)

	w := jwriter.NewWriter()
	d.PrintDetailedMap(&w)
	require.NoError(t, w.Error())

	var result struct {
		SizeLower int               `json:"size_lower"`
		SizeUpper int               `json:"size_upper"`
		LowerMap  []json.RawMessage `json:"lower_map"`
		UpperMap  []json.RawMessage `json:"upper_map"`
	}
	require.NoError(t, json.Unmarshal(w.Bytes(), &result))
	assert.Equal(t, 32, result.SizeLower)
	assert.Equal(t, 64, result.SizeUpper)
	assert.Equal(t, 1, len(result.LowerMap))
	assert.Equal(t, 2, len(result.UpperMap))
}

func TestDoubleStackAllocator_Move_Destroy(t *testing.T) {
	calls := 0
	d := NewDoubleStackAllocator(make([]byte, 128), func(memory *[]byte) {
		calls++
		*memory = nil
	})

	_, _, err := d.AllocateLower(8)
	require.NoError(t, err)
	_, _, err = d.AllocateUpper(8)
	require.NoError(t, err)

	moved := d.Move()
	assert.False(t, d.IsValid())
	assert.True(t, d.IsEmpty())
	assert.Equal(t, 8+markerSize, moved.SizeLower())
	assert.Equal(t, 8+markerSize, moved.SizeUpper())

	d.Destroy()
	assert.Equal(t, 0, calls)

	moved.Destroy()
	moved.Destroy()
	assert.Equal(t, 1, calls)
	assert.True(t, moved.IsEmpty())
}
