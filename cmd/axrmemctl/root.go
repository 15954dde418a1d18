package main

import (
	"fmt"
	"io"
	"os"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "axrmemctl",
	Short: "Exercise the axrmem allocators",
	Long: `axrmemctl drives the frame allocator and the pool allocator through
synthetic workloads and reports their usage as text or JSON.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger logs to the command's error stream, at debug level with --verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// writeJSON writes the document built by fn followed by a newline.
func writeJSON(out io.Writer, fn func(w *jwriter.Writer)) error {
	w := jwriter.NewWriter()
	fn(&w)
	if err := w.Error(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, string(w.Bytes()))
	return err
}
