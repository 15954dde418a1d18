package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestAlloc(t *testing.T) {
	table := []struct {
		name       string
		useOSPages bool
	}{
		{name: "go-heap", useOSPages: false},
		{name: "os-pages", useOSPages: true},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			data, release, err := Alloc(8192, e.useOSPages)
			require.NoError(t, err)

			assert.Equal(t, 8192, len(data))
			assert.Equal(t, make([]byte, 8192), data)

			data[0] = 1
			data[8191] = 2
			assert.Equal(t, byte(1), data[0])
			assert.Equal(t, byte(2), data[8191])

			assert.NoError(t, release())
			assert.NoError(t, release())
		})
	}
}

func TestAlloc_InvalidSize(t *testing.T) {
	_, _, err := Alloc(0, false)
	assert.True(t, errors.Is(err, ErrInvalidSize))

	_, _, err = Alloc(-5, true)
	assert.True(t, errors.Is(err, ErrInvalidSize))
}
