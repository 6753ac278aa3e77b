package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/source"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Long: `Validate a reqtrace configuration file without running analysis.

Checks:
  - YAML syntax
  - Input format and its required settings
  - Regex pattern validity
  - Correlation and outlier settings
  - Webhook and publisher endpoints
  - Batch file existence (warning only)`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath := args[0]
	ctx := commandContext(cmd)
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Validating %s...\n", configPath)

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(w, "\nConfiguration valid!\n")
	fmt.Fprintf(w, "  Input format:   %s\n", cfg.Input.Format)
	fmt.Fprintf(w, "  Flow services:  %d\n", len(cfg.Flow.Services))
	fmt.Fprintf(w, "  Attach window:  %s\n", cfg.Correlation.AttachWindow)
	fmt.Fprintf(w, "  Expansion:      %d\n", cfg.Correlation.ExpansionDepth)
	fmt.Fprintf(w, "  Outliers:       span > max(%s, %g x services)\n", cfg.Outliers.MinSpan, cfg.Outliers.Factor)
	fmt.Fprintf(w, "  Webhooks:       %d\n", len(cfg.Webhooks))
	if cfg.Publish != nil {
		fmt.Fprintf(w, "  Publish:        exchange %s (%s)\n", cfg.Publish.Exchange, cfg.Publish.Trigger)
	}

	if len(cfg.Flow.Services) > 0 {
		fmt.Fprintf(w, "\nFlow:\n")
		for i, s := range cfg.Flow.Services {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}

	if cfg.Input.Format == config.FormatCloudWatch {
		fmt.Fprintf(w, "\nCloudWatch log groups: %d\n", len(cfg.CloudWatch.Groups))
		for _, g := range cfg.CloudWatch.Groups {
			fmt.Fprintf(w, "  - %s\n", g)
		}
		return nil
	}

	files, err := source.ExpandGlobs(cfg.Input.Paths)
	if err != nil {
		fmt.Fprintf(w, "\nWarning: Error expanding input paths: %v\n", err)
		return nil
	}
	existing := files[:0]
	for _, f := range files {
		if fileExists(f) {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintf(w, "\nWarning: No files match input paths\n")
		return nil
	}
	fmt.Fprintf(w, "\nBatch files matched: %d\n", len(existing))
	for _, f := range existing {
		fmt.Fprintf(w, "  - %s\n", f)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
