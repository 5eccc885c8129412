package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	hostAddress string
	workerID    string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fnworker",
		Short: "fnworker - serverless function worker",
		Long: `fnworker connects to a functions host, loads the functions the host
describes, and executes invocations over a framed message channel.

Features:
  - Concurrent invocation execution with cooperative cancellation
  - Live log relay back to the host
  - Durable orchestrations via deterministic replay
  - Prometheus metrics and structured logging`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&hostAddress, "host", "", "functions host address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&workerID, "worker-id", "", "worker id announced to the host")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}
