package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/jonathan/plan-compliance/internal/schemas"
	"github.com/jonathan/plan-compliance/internal/types"
	"github.com/spf13/cobra"
)

var (
	analyzeReferences []string
	analyzeStrategy   string
	analyzeOutput     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <plan-id>",
	Short: "Analyze a stored plan against reference documents",
	Long: `Checks the plan for every requirement of the reference documents, rates the
requirements it addresses and stores the scored report.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVarP(&analyzeReferences, "reference", "r", nil, "Reference document ID (repeatable, required)")
	analyzeCmd.Flags().StringVar(&analyzeStrategy, "strategy", "", "Analysis strategy: staged or single-prompt")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "out", "o", "", "Write the report as JSON to this file")

	if err := analyzeCmd.MarkFlagRequired("reference"); err != nil {
		panic(fmt.Sprintf("failed to mark reference flag as required: %v", err))
	}
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if analyzeStrategy != "" {
		cfg.Strategy = analyzeStrategy
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	var onProgress analysis.ProgressCallback
	if cfg.Verbose {
		printer := observability.NewPrinter(cmd.ErrOrStderr())
		onProgress = printer.PrintProgress
	}

	report, err := b.orchestrator.AnalyzePlanWithProgress(ctx, args[0], analyzeReferences, onProgress)
	if err != nil {
		return err
	}
	if analyzeOutput != "" {
		return writeReportFile(analyzeOutput, report)
	}
	return emit(cmd, "", report, func(p *observability.Printer) {
		p.PrintReport(report)
	})
}

// writeReportFile writes the report and checks the file against the report schema.
func writeReportFile(path string, report *types.AnalysisReport) error {
	if err := writeOutput(io.Discard, path, report); err != nil {
		return err
	}
	if err := schemas.ValidateFile(schemas.AnalysisReport, path); err != nil {
		return fmt.Errorf("report written to %s does not match the report schema: %w", path, err)
	}
	return nil
}
