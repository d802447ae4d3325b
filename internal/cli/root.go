// Package cli wires the pssh command tree: run, push, and pull over
// a shared set of batch flags.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ExitCode carries a process exit status up to main without printing
// anything; partial per-host failure maps to 3.
type ExitCode int

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

// Execute runs the root command with the provided context.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pssh",
		Short: "Run commands and copy files across many hosts in parallel",
		Long: `pssh runs a single operation against a set of remote hosts
concurrently: a command over the remote shell, a file push, or a file
pull. Each host is handled by one external ssh or scp process, with a
bounded number in flight at any time.

Exit status: 0 when every host succeeded, 3 when some hosts failed,
1 on a fatal batch abort or a configuration error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newPullCmd())

	return rootCmd
}
