package main

import (
	"context"

	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/spf13/cobra"
)

var thinkingOutput string

var thinkingCmd = &cobra.Command{
	Use:   "thinking <plan-id>",
	Short: "Explain how the latest report of a plan was scored",
	Args:  cobra.ExactArgs(1),
	RunE:  runThinking,
}

func init() {
	thinkingCmd.Flags().StringVarP(&thinkingOutput, "out", "o", "", "Write the thinking process as JSON to this file")
	rootCmd.AddCommand(thinkingCmd)
}

func runThinking(cmd *cobra.Command, args []string) error {
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

	process, err := b.orchestrator.GetThinkingProcess(ctx, args[0])
	if err != nil {
		return err
	}
	return emit(cmd, thinkingOutput, process, func(p *observability.Printer) {
		p.PrintThinkingProcess(process)
	})
}
