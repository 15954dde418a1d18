package main

import (
	"fmt"
	"math/rand"

	"github.com/axrengine/axrmem"
	"github.com/axrengine/axrmem/allocator"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
)

var (
	simFrameSize int
	simFrames    int
	simMaxAlloc  int
	simSeed      int64
	simOSPages   bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simFrameSize, "frame-size", axrmem.DefaultFrameAllocatorSize, "Frame allocator capacity in bytes")
	cmd.Flags().IntVar(&simFrames, "frames", 60, "Number of frames to simulate")
	cmd.Flags().IntVar(&simMaxAlloc, "max-alloc", 4096, "Largest single allocation in bytes")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&simOSPages, "os-pages", false, "Back the frame allocator with anonymous OS pages")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated frame loop on the frame allocator",
		Long: `The simulate command sets up a frame allocator and runs a number of
frames. Each frame makes random scoped allocations, rolls some scopes back and
clears the allocator at the end of the frame.

Example:
  axrmemctl simulate --frames 120 --max-alloc 8192
  axrmemctl simulate --frame-size 65536 --seed 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd)
		},
	}
	return cmd
}

type frameStats struct {
	frame       int
	peak        int
	allocations int
	rollbacks   int
	failures    int
}

func simulateFrame(frame *allocator.StackAllocator, rng *rand.Rand, maxAlloc int) frameStats {
	var stats frameStats
	var scopes []allocator.Marker

	steps := 8 + rng.Intn(56)
	for i := 0; i < steps; i++ {
		switch {
		case len(scopes) > 0 && rng.Intn(4) == 0:
			n := rng.Intn(len(scopes))
			frame.Deallocate(scopes[n])
			scopes = scopes[:n]
			stats.rollbacks++

		default:
			size := 1 + rng.Intn(maxAlloc)
			_, marker, err := frame.AllocateAligned(size, 16)
			if errors.Is(err, allocator.ErrOutOfMemory) {
				stats.failures++
				continue
			}
			scopes = append(scopes, marker)
			stats.allocations++
		}
		stats.peak = max(stats.peak, frame.Size())
	}
	return stats
}

func runSimulate(cmd *cobra.Command) error {
	if simFrames < 0 {
		return errors.Wrapf(allocator.ErrValidationFailed, "frames must >= 0, got %d", simFrames)
	}
	if simMaxAlloc <= 0 {
		return errors.Wrapf(allocator.ErrValidationFailed, "max-alloc must > 0, got %d", simMaxAlloc)
	}

	logger := newLogger(cmd)
	a := axrmem.New(axrmem.Config{
		FrameAllocatorSize: simFrameSize,
		Logger:             logger,
		UseOSPages:         simOSPages,
	})
	if err := a.Setup(); err != nil {
		return err
	}
	defer func() { _ = a.ShutDown() }()

	rng := rand.New(rand.NewSource(simSeed))
	frames := make([]frameStats, 0, simFrames)
	for i := 0; i < simFrames; i++ {
		stats := simulateFrame(a.FrameAllocator(), rng, simMaxAlloc)
		stats.frame = i
		frames = append(frames, stats)

		if err := a.FrameAllocator().Validate(); err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		if verbose {
			a.LogFrameAllocatorUsage(fmt.Sprintf("frame-%d", i))
		}
		a.ClearFrame()
	}

	out := cmd.OutOrStdout()
	metrics := a.FrameAllocator().Metrics()

	if jsonOut {
		return writeJSON(out, func(w *jwriter.Writer) {
			obj := w.Object()
			arr := obj.Name("frames").Array()
			for _, f := range frames {
				fo := arr.Object()
				fo.Name("frame").Int(f.frame)
				fo.Name("peak").Int(f.peak)
				fo.Name("allocations").Int(f.allocations)
				fo.Name("rollbacks").Int(f.rollbacks)
				fo.Name("failures").Int(f.failures)
				fo.End()
			}
			arr.End()
			metrics.WriteJSON(obj.Name("frame_allocator"))
			obj.End()
		})
	}

	for _, f := range frames {
		fmt.Fprintf(out, "frame %d: peak %d bytes, %d allocations, %d rollbacks, %d out of memory\n",
			f.frame, f.peak, f.allocations, f.rollbacks, f.failures)
	}
	fmt.Fprintf(out, "capacity %d bytes, peak %d bytes (%.1f%%)\n",
		metrics.Capacity, metrics.Peak, 100*float64(metrics.Peak)/float64(metrics.Capacity))
	return nil
}
