// Package analysis orchestrates plan analysis runs: loading plan content and
// requirements, running the compliance and quality stages, aggregating and
// storing the report. It also processes reference documents into
// requirements, reconciles equivalent requirements across standards, and
// derives the thinking-process narrative from stored reports.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/extraction"
	"github.com/jonathan/plan-compliance/internal/ingestion"
	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/scoring"
	"github.com/jonathan/plan-compliance/internal/types"
)

// Config holds orchestrator settings
type Config struct {
	// Strategy is StrategyStaged or StrategySinglePrompt
	Strategy string
	// Concurrency bounds parallel model calls
	Concurrency int
	// BatchSize caps requirements per compliance prompt; 0 keeps sections whole
	BatchSize int
	// DefaultBucket is used when a document's metadata names no bucket
	DefaultBucket string
	// Chunking controls how raw reference files are split
	Chunking chunking.Options
}

// DefaultConfig returns the settings used by the CLI and server
func DefaultConfig() Config {
	return Config{
		Strategy:    StrategyStaged,
		Concurrency: 4,
		BatchSize:   25,
		Chunking:    chunking.DefaultOptions(),
	}
}

// Orchestrator runs analyses against the configured stores and model client.
type Orchestrator struct {
	documents    DocumentStore
	files        FileStore
	requirements RequirementStore
	reports      ReportStore

	client    llm.Client
	extractor *extraction.Extractor
	strategy  Strategy
	cfg       Config
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewOrchestrator wires an orchestrator. Documents, Requirements and Reports
// are required; Files may be nil when raw-file fallback is not needed.
func NewOrchestrator(stores Stores, client llm.Client, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if stores.Documents == nil || stores.Requirements == nil || stores.Reports == nil {
		return nil, errors.New("document, requirement and report stores are required")
	}
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}

	strategy, err := NewStrategy(cfg.Strategy, client, logger, cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		documents:    stores.Documents,
		files:        stores.Files,
		requirements: stores.Requirements,
		reports:      stores.Reports,
		client:       client,
		extractor:    extraction.NewExtractor(client, logger, cfg.Concurrency),
		strategy:     strategy,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}, nil
}

// Strategy returns the name of the configured strategy
func (o *Orchestrator) Strategy() string {
	return o.strategy.Name()
}

// AnalyzePlan analyzes a plan against the requirements of the given reference documents.
func (o *Orchestrator) AnalyzePlan(ctx context.Context, planID string, referenceDocumentIDs []string) (*types.AnalysisReport, error) {
	return o.AnalyzePlanWithProgress(ctx, planID, referenceDocumentIDs, nil)
}

// AnalyzePlanWithProgress is AnalyzePlan with a callback for every state transition.
// On failure no report is stored.
func (o *Orchestrator) AnalyzePlanWithProgress(ctx context.Context, planID string, referenceDocumentIDs []string, onProgress ProgressCallback) (*types.AnalysisReport, error) {
	req := types.AnalyzePlanRequest{PlanID: planID, ReferenceDocumentIDs: referenceDocumentIDs}
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	runID := o.newID()
	tracker, err := newRunTracker(runID, planID, onProgress)
	if err != nil {
		return nil, err
	}

	log := o.logger.With(zap.String("run_id", runID), zap.String("plan_id", planID))
	report, err := o.run(ctx, tracker, runID, req, log)
	if err != nil {
		tracker.fail(err)
		log.Error("analysis failed", zap.String("state", tracker.current()), zap.Error(err))
		return nil, err
	}
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, tracker *runTracker, runID string, req types.AnalyzePlanRequest, log *zap.Logger) (*types.AnalysisReport, error) {
	if err := tracker.advance(eventStart, "Loading plan content", nil); err != nil {
		return nil, err
	}

	planText, err := o.planText(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	if err := tracker.advance(eventPlanLoaded, "Loading requirements", map[string]int{"plan_characters": len(planText)}); err != nil {
		return nil, err
	}

	reqs, err := o.requirements.GetRequirementsForDocuments(ctx, req.ReferenceDocumentIDs)
	if err != nil {
		return nil, storeErr("get requirements", err)
	}
	if len(reqs) == 0 {
		return nil, &InputError{Message: "no requirements found for the selected reference documents"}
	}

	batches := BuildBatches(reqs, o.cfg.BatchSize)
	log.Info("analysis started",
		zap.String("strategy", o.strategy.Name()),
		zap.Int("requirements", len(reqs)),
		zap.Int("batches", len(batches)),
	)

	if err := tracker.advance(eventRequirementsLoaded, "Checking compliance", map[string]int{"requirements": len(reqs), "batches": len(batches)}); err != nil {
		return nil, err
	}

	qualityStarted := false
	outcome, err := o.strategy.Analyze(ctx, planText, batches, func() {
		qualityStarted = true
		_ = tracker.advance(eventComplianceDone, "Evaluating quality", nil)
	})
	if err != nil {
		return nil, err
	}
	if !qualityStarted {
		if err := tracker.advance(eventComplianceDone, "Evaluating quality", nil); err != nil {
			return nil, err
		}
	}
	if outcome.FailedBatches > 0 {
		log.Warn("analysis degraded", zap.Int("failed_batches", outcome.FailedBatches), zap.Int("batches", len(batches)))
	}

	if err := tracker.advance(eventQualityDone, "Aggregating scores", nil); err != nil {
		return nil, err
	}

	report := scoring.BuildReport(scoring.ReportInput{
		ID:                   runID,
		PlanID:               req.PlanID,
		ReferenceDocumentIDs: req.ReferenceDocumentIDs,
		Strategy:             o.strategy.Name(),
		Requirements:         reqs,
		Compliance:           outcome.Compliance,
		Quality:              outcome.Quality,
		AnalyzedAt:           o.now(),
	})

	for i := range outcome.Compliance {
		outcome.Compliance[i].AnalysisID = report.ID
	}
	for i := range outcome.Quality {
		outcome.Quality[i].AnalysisID = report.ID
	}

	// Findings first: the report row is what makes a run visible.
	if err := o.reports.InsertFindings(ctx, report.ID, outcome.Compliance, outcome.Quality); err != nil {
		return nil, storeErr("insert findings", err)
	}
	if err := o.reports.InsertReport(ctx, report); err != nil {
		return nil, storeErr("insert report", err)
	}

	if err := tracker.advance(eventReportStored, "Report stored", map[string]int{
		"compliance_score": report.OverallComplianceScore,
		"quality_score":    report.OverallQualityScore,
	}); err != nil {
		return nil, err
	}
	if err := tracker.advance(eventFinish, "Analysis complete", report); err != nil {
		return nil, err
	}

	log.Info("analysis complete",
		zap.Int("compliance_score", report.OverallComplianceScore),
		zap.Int("quality_score", report.OverallQualityScore),
		zap.Int("missing", len(report.MissingRequirements)),
	)
	return report, nil
}

// GetLatestReport returns the most recent report for a plan.
func (o *Orchestrator) GetLatestReport(ctx context.Context, planID string) (*types.AnalysisReport, error) {
	if strings.TrimSpace(planID) == "" {
		return nil, &ValidationError{Field: "plan_id", Message: "is required"}
	}
	report, err := o.reports.GetLatestReport(ctx, planID)
	if err != nil {
		return nil, storeErr("get latest report", err)
	}
	if report == nil {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrReportNotFound)
	}
	return report, nil
}

// planText returns the plan's stored chunks joined in index order, or the
// extracted text of its raw file when it has no chunks.
func (o *Orchestrator) planText(ctx context.Context, planID string) (string, error) {
	doc, chunks, raw, err := o.loadDocument(ctx, planID)
	if err != nil {
		return "", err
	}

	text := raw
	if len(chunks) > 0 {
		parts := make([]string, 0, len(chunks))
		for _, c := range chunks {
			if s := strings.TrimSpace(c.Content); s != "" {
				parts = append(parts, s)
			}
		}
		text = strings.Join(parts, "\n\n")
	}
	if strings.TrimSpace(text) == "" {
		return "", &InputError{Message: fmt.Sprintf("plan %s has no content", doc.ID)}
	}
	return text, nil
}

// loadDocument returns the document with its stored chunks sorted by index,
// or, when there are none, the text extracted from its raw file.
func (o *Orchestrator) loadDocument(ctx context.Context, documentID string) (*types.Document, []types.DocumentChunk, string, error) {
	doc, err := o.documents.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, nil, "", storeErr("get document", err)
	}
	if doc == nil {
		return nil, nil, "", fmt.Errorf("document %s: %w", documentID, ErrDocumentNotFound)
	}

	chunks, err := o.documents.GetDocumentChunks(ctx, documentID)
	if err != nil {
		return nil, nil, "", storeErr("get document chunks", err)
	}
	if len(chunks) > 0 {
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
		return doc, chunks, "", nil
	}

	raw, err := o.rawText(ctx, doc)
	if err != nil {
		return nil, nil, "", err
	}
	return doc, nil, raw, nil
}

func (o *Orchestrator) rawText(ctx context.Context, doc *types.Document) (string, error) {
	filePath := doc.MetadataString(types.MetadataFilePath)
	if filePath == "" || o.files == nil {
		return "", nil
	}
	bucket := doc.MetadataString(types.MetadataBucket)
	if bucket == "" {
		bucket = o.cfg.DefaultBucket
	}

	data, err := o.files.DownloadRawFile(ctx, bucket, filePath)
	if err != nil {
		return "", storeErr("download raw file", err)
	}

	text, err := ingestion.ExtractText(data, path.Base(filePath), doc.MetadataString(types.MetadataMIMEType))
	if err != nil {
		return "", &InputError{Message: fmt.Sprintf("document %s: %v", doc.ID, err)}
	}
	return text, nil
}
