package main

import (
	"context"

	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/spf13/cobra"
)

var processOutput string

var processReferenceCmd = &cobra.Command{
	Use:   "process-reference <document-id>",
	Short: "Extract requirements from a stored reference document",
	Long:  "Chunks the reference document, extracts its requirements with the language model and replaces any requirements stored for it before.",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessReference,
}

func init() {
	processReferenceCmd.Flags().StringVarP(&processOutput, "out", "o", "", "Write the result as JSON to this file")
	rootCmd.AddCommand(processReferenceCmd)
}

func runProcessReference(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	result, err := b.orchestrator.ProcessReferenceDocument(ctx, args[0])
	if err != nil {
		return err
	}
	return emit(cmd, processOutput, result, func(p *observability.Printer) {
		p.PrintProcessResult(result)
	})
}
