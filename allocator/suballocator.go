package allocator

import (
	"golang.org/x/exp/slog"
)

// DeallocateFunc is called once when an allocator is done with its block.
// It receives the allocator's reference so it can clear it, and must not call
// back into the allocator invoking it.
type DeallocateFunc func(memory *[]byte)

// Option configures a SubAllocator.
type Option func(s *SubAllocator)

// WithLogger ...
func WithLogger(logger *slog.Logger) Option {
	return func(s *SubAllocator) {
		s.logger = logger
	}
}

// SubAllocator holds the bookkeeping shared by every allocator: the block it
// manages and the callback that hands it back. It never owns the block.
type SubAllocator struct {
	memory     []byte
	deallocate DeallocateFunc
	logger     *slog.Logger
}

func newSubAllocator(memory []byte, deallocate DeallocateFunc, opts []Option) SubAllocator {
	s := SubAllocator{
		memory:     memory,
		deallocate: deallocate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Memory returns the whole managed block.
func (s *SubAllocator) Memory() []byte {
	return s.memory
}

// Capacity ...
func (s *SubAllocator) Capacity() int {
	return len(s.memory)
}

// IsValid reports whether the allocator still references a block.
func (s *SubAllocator) IsValid() bool {
	return s.memory != nil
}

// Logger ...
func (s *SubAllocator) Logger() *slog.Logger {
	return s.logger
}

// move transfers the block and callback, leaving s empty.
func (s *SubAllocator) move() SubAllocator {
	moved := *s
	s.memory = nil
	s.deallocate = nil
	return moved
}

// destroy hands the block back through the callback, at most once.
func (s *SubAllocator) destroy(kind string) {
	if s.memory == nil {
		s.deallocate = nil
		return
	}

	if s.deallocate == nil {
		s.logger.Warn("memory leak: no deallocate callback for block",
			slog.String("allocator", kind),
			slog.Int("capacity", len(s.memory)),
		)
	} else {
		deallocate := s.deallocate
		s.deallocate = nil
		deallocate(&s.memory)
	}
	s.memory = nil
}
