//go:build unix

package heap

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mapAnonymous maps private anonymous pages. The kernel zeroes them.
func mapAnonymous(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "heap: mmap %d bytes", size)
	}
	release := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// double unmap
			return nil
		}
		return errors.Wrap(err, "heap: munmap")
	}
	return data, release, nil
}
