package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/config"
	"github.com/jonathan/plan-compliance/internal/db/memory"
	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/jonathan/plan-compliance/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reviewPlan       string
	reviewReferences []string
	reviewThinking   bool
	reviewOutput     string
)

var reviewFilesCmd = &cobra.Command{
	Use:   "review-files",
	Short: "Review a local plan file against local reference files",
	Long: `Runs the whole pipeline in memory without a database: extracts the
requirements of every reference file, reconciles them when there are several,
and analyzes the plan file.`,
	Args: cobra.NoArgs,
	RunE: runReviewFiles,
}

func init() {
	reviewFilesCmd.Flags().StringVarP(&reviewPlan, "plan", "p", "", "Plan file (required)")
	reviewFilesCmd.Flags().StringSliceVarP(&reviewReferences, "reference", "r", nil, "Reference file (repeatable, required)")
	reviewFilesCmd.Flags().BoolVar(&reviewThinking, "thinking", false, "Include the thinking process")
	reviewFilesCmd.Flags().StringVarP(&reviewOutput, "out", "o", "", "Write the review as JSON to this file")

	if err := reviewFilesCmd.MarkFlagRequired("plan"); err != nil {
		panic(fmt.Sprintf("failed to mark plan flag as required: %v", err))
	}
	if err := reviewFilesCmd.MarkFlagRequired("reference"); err != nil {
		panic(fmt.Sprintf("failed to mark reference flag as required: %v", err))
	}
	rootCmd.AddCommand(reviewFilesCmd)
}

// fileReview is the combined output of a local review.
type fileReview struct {
	References []types.ProcessResult  `json:"references"`
	Reconcile  *types.ReconcileResult `json:"reconcile,omitempty"`
	Report     *types.AnalysisReport  `json:"report"`
	Thinking   *types.ThinkingProcess `json:"thinking,omitempty"`
}

// loadFile ingests a local file into the memory store and returns its document ID.
func loadFile(store *memory.Store, path, docType string, cfg config.Config) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, chunks, err := buildDocument(data, path, docType, "", cfg.Chunking)
	if err != nil {
		return "", err
	}
	store.PutDocument(*doc, chunks)
	return doc.ID, nil
}

// reviewFiles runs reference processing, reconciliation and plan analysis
// against an in-memory store.
func reviewFiles(ctx context.Context, cfg config.Config, client llm.Client, planPath string, referencePaths []string, withThinking bool, onProgress analysis.ProgressCallback) (*fileReview, error) {
	store := memory.New()

	planID, err := loadFile(store, planPath, types.DocumentTypePlan, cfg)
	if err != nil {
		return nil, err
	}
	referenceIDs := make([]string, 0, len(referencePaths))
	for _, path := range referencePaths {
		id, err := loadFile(store, path, types.DocumentTypeReference, cfg)
		if err != nil {
			return nil, err
		}
		referenceIDs = append(referenceIDs, id)
	}

	stores := analysis.Stores{Documents: store, Files: store, Requirements: store, Reports: store}
	orchestrator, err := analysis.NewOrchestrator(stores, client, cfg.AnalysisConfig(), logger)
	if err != nil {
		return nil, err
	}

	review := &fileReview{}
	for _, id := range referenceIDs {
		result, err := orchestrator.ProcessReferenceDocument(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to process reference %s: %w", id, err)
		}
		review.References = append(review.References, *result)
	}

	if len(referenceIDs) > 1 {
		review.Reconcile, err = orchestrator.ReconcileRequirements(ctx, referenceIDs)
		if err != nil {
			return nil, err
		}
	}

	review.Report, err = orchestrator.AnalyzePlanWithProgress(ctx, planID, referenceIDs, onProgress)
	if err != nil {
		return nil, err
	}
	if withThinking {
		review.Thinking = analysis.BuildThinkingProcess(review.Report)
	}
	return review, nil
}

func runReviewFiles(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := newLLMClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close LLM client", zap.Error(cerr))
		}
	}()

	var onProgress analysis.ProgressCallback
	if cfg.Verbose {
		onProgress = observability.NewPrinter(cmd.ErrOrStderr()).PrintProgress
	}

	review, err := reviewFiles(ctx, cfg, client, reviewPlan, reviewReferences, reviewThinking, onProgress)
	if err != nil {
		return err
	}
	return emit(cmd, reviewOutput, review, func(p *observability.Printer) {
		for i := range review.References {
			p.PrintProcessResult(&review.References[i])
		}
		p.PrintReconcileResult(review.Reconcile)
		p.PrintReport(review.Report)
		p.PrintThinkingProcess(review.Thinking)
	})
}
