//go:build !unix

package heap

// mapAnonymous falls back to the Go heap where mmap is not available.
func mapAnonymous(size int) ([]byte, func() error, error) {
	return allocGo(size)
}
