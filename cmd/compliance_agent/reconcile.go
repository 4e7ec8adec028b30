package main

import (
	"context"
	"fmt"

	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/spf13/cobra"
)

var (
	reconcileReferences []string
	reconcileOutput     string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Link equivalent requirements across reference standards",
	Long: `Asks the language model which requirements of the same section express the
same obligation in different standards, and links each group to all of their
source documents. Failures are logged and skipped.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringSliceVarP(&reconcileReferences, "reference", "r", nil, "Reference document ID (repeatable, required)")
	reconcileCmd.Flags().StringVarP(&reconcileOutput, "out", "o", "", "Write the result as JSON to this file")

	if err := reconcileCmd.MarkFlagRequired("reference"); err != nil {
		panic(fmt.Sprintf("failed to mark reference flag as required: %v", err))
	}
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
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

	result, err := b.orchestrator.ReconcileRequirements(ctx, reconcileReferences)
	if err != nil {
		return err
	}
	return emit(cmd, reconcileOutput, result, func(p *observability.Printer) {
		p.PrintReconcileResult(result)
	})
}
