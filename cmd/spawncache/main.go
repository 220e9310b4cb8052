// Command spawncache runs maintenance tasks against a spawncache deployment:
// TTL sweeps, collection info and explicit invalidation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "spawncache:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "spawncache",
		Short:         "maintenance tool for the spawncache semantic cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flags.traceStdout, "trace-stdout", false, "print OpenTelemetry spans to stdout")

	rootCmd.AddCommand(
		newSweepCmd(&flags),
		newInfoCmd(&flags),
		newInvalidateCmd(&flags),
	)
	return rootCmd
}
