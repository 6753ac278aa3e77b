// Package cli provides the command-line interface for reqtrace.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/reqtrace/internal/cli/commands"
)

// Execute runs the root command with the process arguments and returns the
// exit code.
func Execute() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes the CLI with args and returns the exit code: 0 when no
// outliers were found, 1 when some were, 2 on configuration or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	commands.ExitCode = 0

	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		// Print error to stderr (SilenceErrors prevents Cobra from doing this)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return commands.ExitCode
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reqtrace",
		Short: "Reconstruct request timelines from distributed logs",
		Long: `reqtrace is a batch log analysis tool that follows requests across services.

It reads log batches (CSV exports, raw container logs, JSON lines or a
CloudWatch Logs fetch), groups the events of each request by correlation
tokens and reports:
  - Per-service timelines with exclusive time
  - Host transitions between pipeline stages
  - A clock-independent sequence view
  - Requests whose end-to-end span dwarfs the time spent in services`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewDetectCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	return rootCmd
}
