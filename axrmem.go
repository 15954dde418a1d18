// Package axrmem owns the engine-wide frame allocator.
//
// An Allocator is created with New, set up once before the first frame and
// shut down after the last one. Every frame the engine allocates scratch
// memory from FrameAllocator and calls ClearFrame when the frame ends.
package axrmem

import (
	"io"

	"github.com/axrengine/axrmem/allocator"
	"github.com/axrengine/axrmem/internal/heap"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// ErrNotSetUp is returned by operations that need a set up Allocator.
var ErrNotSetUp = errors.New("axrmem: allocator is not set up")

// Allocator ...
type Allocator struct {
	conf   Config
	logger *slog.Logger

	frame   *allocator.StackAllocator
	release func() error
}

// New creates an Allocator that is not set up yet.
func New(conf Config) *Allocator {
	conf = conf.withDefaults()
	return &Allocator{
		conf:   conf,
		logger: conf.Logger,
	}
}

// Config returns the configuration after defaults were applied.
func (a *Allocator) Config() Config {
	return a.conf
}

// Setup requests the frame block and creates the frame allocator.
// Calling Setup twice without ShutDown panics.
func (a *Allocator) Setup() error {
	if a.frame != nil {
		panic(errors.AssertionFailedf("axrmem: Setup called twice"))
	}
	if err := a.conf.Validate(); err != nil {
		return err
	}

	block, release, err := heap.Alloc(a.conf.FrameAllocatorSize, a.conf.UseOSPages)
	if err != nil {
		return errors.Wrap(err, "axrmem: allocate frame block")
	}

	// The block is released in ShutDown, after the frame allocator is destroyed.
	a.frame = allocator.NewStackAllocator(block, func(memory *[]byte) {
		*memory = nil
	}, allocator.WithLogger(a.logger))
	a.release = release

	a.logger.Debug("frame allocator set up",
		slog.Int("capacity", a.conf.FrameAllocatorSize),
		slog.Bool("os_pages", a.conf.UseOSPages),
	)
	return nil
}

// ShutDown destroys the frame allocator and releases its block. It is a no-op
// when the Allocator is not set up.
func (a *Allocator) ShutDown() error {
	if a.frame == nil {
		return nil
	}

	peak := a.frame.Metrics().Peak
	a.frame.Destroy()
	a.frame = nil

	release := a.release
	a.release = nil
	if err := release(); err != nil {
		return errors.Wrap(err, "axrmem: release frame block")
	}

	a.logger.Debug("frame allocator shut down", slog.Int("peak", peak))
	return nil
}

// IsSetUp ...
func (a *Allocator) IsSetUp() bool {
	return a.frame != nil
}

// FrameAllocator returns the per-frame stack allocator, nil when not set up.
func (a *Allocator) FrameAllocator() *allocator.StackAllocator {
	return a.frame
}

// ClearFrame drops every frame allocation.
func (a *Allocator) ClearFrame() {
	if a.frame != nil {
		a.frame.Clear()
	}
}

// LogFrameAllocatorUsage logs the frame allocator metrics at info level.
func (a *Allocator) LogFrameAllocatorUsage(label string) {
	if a.frame == nil {
		a.logger.Warn("frame allocator usage requested before setup", slog.String("label", label))
		return
	}

	m := a.frame.Metrics()
	a.logger.Info("frame allocator usage",
		slog.String("label", label),
		slog.Int("size", m.Size),
		slog.Int("capacity", m.Capacity),
		slog.Int("remaining", m.Remaining),
		slog.Int("peak", m.Peak),
		slog.Int("allocations", m.Allocations),
		slog.Float64("utilization", m.Utilization),
	)
}

// WriteFrameAllocatorUsage writes the frame allocator metrics to out as JSON.
func (a *Allocator) WriteFrameAllocatorUsage(out io.Writer) error {
	if a.frame == nil {
		return ErrNotSetUp
	}

	w := jwriter.NewWriter()
	a.frame.Metrics().WriteJSON(&w)
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "axrmem: encode usage")
	}
	_, err := out.Write(w.Bytes())
	return errors.Wrap(err, "axrmem: write usage")
}
