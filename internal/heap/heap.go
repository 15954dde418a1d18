// Package heap requests backing blocks for the allocators, either as anonymous
// OS pages or from the Go heap.
package heap

import (
	"github.com/cockroachdb/errors"
)

// ErrInvalidSize is returned for non-positive block sizes.
var ErrInvalidSize = errors.New("heap: invalid block size")

// Alloc returns a zeroed block of size bytes and the function that releases it.
// The release function is safe to call more than once.
func Alloc(size int, useOSPages bool) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, errors.Wrapf(ErrInvalidSize, "size %d", size)
	}
	if useOSPages {
		return mapAnonymous(size)
	}
	return allocGo(size)
}

func allocGo(size int) ([]byte, func() error, error) {
	data := make([]byte, size)
	release := func() error {
		data = nil
		return nil
	}
	return data, release, nil
}
