package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/reqtrace/pkg/analyzer"
	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/output"
)

// InspectOptions holds command-line options for the inspect command.
type InspectOptions struct {
	Output   string
	LogLevel string
	Verbose  bool
}

// errFound stops batch iteration once the request was printed.
var errFound = errors.New("request found")

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <config-file> <request-id> [batch...]",
		Short: "Show the timeline of a single request",
		Long: `Print the detailed breakdown of one request: its events, the per-service
table with exclusive time, host transitions and the sequence view.

Batches are searched in order and the first one containing the request is
reported.

Example:
  reqtrace inspect reqtrace.yaml 0b6c3a52-7f1e-4f7d-9d53-1c2e2f0d7a11
  reqtrace inspect -v reqtrace.yaml abc123 logs/today.csv`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "text", "Output format (text|json)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Diagnostic log level (debug|info|warn|error)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "List every event of the request")

	return cmd
}

func runInspect(cmd *cobra.Command, args []string, opts *InspectOptions) error {
	configPath, requestID := args[0], args[1]
	ctx := commandContext(cmd)

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := initLogging(cmd, cfg, opts.LogLevel, opts.Output == "json")

	a, err := analyzer.New(cfg,
		analyzer.WithLogger(logger),
		analyzer.WithRequestFilter([]string{requestID}))
	if err != nil {
		return fmt.Errorf("creating analyzer: %w", err)
	}

	formatter, err := output.NewFormatter(opts.Output, output.FormatOptions{Verbose: opts.Verbose})
	if err != nil {
		return err
	}

	err = eachBatch(ctx, cfg, args[2:], func(batch event.Batch) error {
		result, err := a.Run(ctx, batch)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}
		session, ok := result.Session(requestID)
		if !ok {
			return nil
		}
		if err := formatter.FormatSession(ctx, session, cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("formatting output: %w", err)
		}
		return errFound
	})
	if errors.Is(err, errFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("request %s not found", requestID)
}
