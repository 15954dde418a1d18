package axrmem

import (
	"github.com/axrengine/axrmem/allocator"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// DefaultFrameAllocatorSize is used when Config.FrameAllocatorSize is zero.
const DefaultFrameAllocatorSize = 1 << 20

// Config ...
type Config struct {
	// FrameAllocatorSize is the capacity of the per-frame stack allocator in bytes.
	FrameAllocatorSize int

	// Logger receives setup, shutdown, usage and leak messages. Defaults to slog.Default().
	Logger *slog.Logger

	// UseOSPages backs the frame allocator with anonymous OS pages instead of the Go heap.
	UseOSPages bool
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		FrameAllocatorSize: DefaultFrameAllocatorSize,
		Logger:             slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	if c.FrameAllocatorSize == 0 {
		c.FrameAllocatorSize = DefaultFrameAllocatorSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate ...
func (c Config) Validate() error {
	if c.FrameAllocatorSize <= 0 {
		return errors.Wrapf(allocator.ErrValidationFailed, "FrameAllocatorSize must > 0, got %d", c.FrameAllocatorSize)
	}
	if c.Logger == nil {
		return errors.Wrap(allocator.ErrValidationFailed, "Logger must not be nil")
	}
	return nil
}
