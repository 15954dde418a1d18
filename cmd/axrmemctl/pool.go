package main

import (
	"fmt"

	"github.com/axrengine/axrmem/allocator"
	"github.com/axrengine/axrmem/internal/heap"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	poolChunks  int
	poolAligned bool
)

func init() {
	cmd := newPoolCmd()
	cmd.Flags().IntVar(&poolChunks, "chunks", 1024, "Number of chunks in the pool")
	cmd.Flags().BoolVar(&poolAligned, "aligned", false, "Reserve alignment bytes in every chunk")
	rootCmd.AddCommand(cmd)
}

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Exercise a pool of vertices",
		Long: `The pool command fills a pool of vertices, frees every other chunk,
refills it and reports the pool metrics and geometry.

Example:
  axrmemctl pool --chunks 4096
  axrmemctl pool --chunks 100 --aligned --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPool(cmd)
		},
	}
	return cmd
}

type vertex struct {
	X, Y, Z float32
}

type poolReport struct {
	filled   int
	freed    int
	refilled int
}

func exercisePool(p *allocator.Pool[vertex]) (poolReport, error) {
	var report poolReport

	values := make([]*vertex, 0, p.NumChunks())
	for {
		v, err := p.Allocate()
		if errors.Is(err, allocator.ErrOutOfMemory) {
			break
		}
		if err != nil {
			return report, err
		}
		n := float32(len(values))
		*v = vertex{X: n, Y: 2 * n, Z: 3 * n}
		values = append(values, v)
	}
	report.filled = len(values)

	for i := 0; i < len(values); i += 2 {
		p.Deallocate(values[i])
		report.freed++
	}

	for i := 0; i < report.freed; i++ {
		if _, err := p.Allocate(); err != nil {
			return report, err
		}
		report.refilled++
	}

	for i := 1; i < len(values); i += 2 {
		n := float32(i)
		if *values[i] != (vertex{X: n, Y: 2 * n, Z: 3 * n}) {
			return report, errors.Newf("vertex %d was overwritten", i)
		}
	}
	return report, p.Validate()
}

func runPool(cmd *cobra.Command) error {
	if poolChunks <= 0 {
		return errors.Wrapf(allocator.ErrValidationFailed, "chunks must > 0, got %d", poolChunks)
	}

	logger := newLogger(cmd)
	block, release, err := heap.Alloc(poolChunks*allocator.ChunkSizeOf[vertex](poolAligned), false)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	p := allocator.NewPool[vertex](block, poolAligned, func(memory *[]byte) {
		*memory = nil
	}, allocator.WithLogger(logger))
	defer p.Destroy()

	logger.Debug("pool created",
		slog.Int("chunks", p.NumChunks()),
		slog.Int("chunk_size", p.ChunkSize()),
		slog.Bool("aligned", poolAligned),
	)

	report, err := exercisePool(p)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, func(w *jwriter.Writer) {
			obj := w.Object()
			obj.Name("filled").Int(report.filled)
			obj.Name("freed").Int(report.freed)
			obj.Name("refilled").Int(report.refilled)
			p.PrintDetailedMap(obj.Name("pool"))
			obj.End()
		})
	}

	m := p.Metrics()
	fmt.Fprintf(out, "chunks %d of %d bytes (aligned %t)\n", p.NumChunks(), p.ChunkSize(), poolAligned)
	fmt.Fprintf(out, "filled %d, freed %d, refilled %d\n", report.filled, report.freed, report.refilled)
	fmt.Fprintf(out, "in use %d bytes of %d, peak %d bytes\n", m.Size, m.Capacity, m.Peak)
	return nil
}
