package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/plan-compliance/internal/compliance"
	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/prompts"
	"github.com/jonathan/plan-compliance/internal/quality"
	"github.com/jonathan/plan-compliance/internal/schemas"
	"github.com/jonathan/plan-compliance/internal/types"
)

// Strategy names accepted by NewStrategy.
const (
	StrategyStaged       = "staged"
	StrategySinglePrompt = "single-prompt"
)

// Batch is a group of requirements from one section analyzed together.
type Batch struct {
	Section      string
	Requirements []types.Requirement
}

// Outcome is the combined result of every batch, in batch order.
type Outcome struct {
	Compliance []types.ComplianceFinding
	Quality    []types.QualityFinding
	// FailedBatches counts batches whose compliance call failed or gave no usable reply
	FailedBatches int
}

// Strategy runs compliance checking and quality evaluation over batches.
// onQuality is called once, when quality evaluation starts.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, planText string, batches []Batch, onQuality func()) (*Outcome, error)
}

// NewStrategy returns the named strategy.
func NewStrategy(name string, client llm.Client, logger *zap.Logger, concurrency int) (Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	switch name {
	case "", StrategyStaged:
		return &StagedStrategy{
			checker:     compliance.NewChecker(client, logger),
			evaluator:   quality.NewEvaluator(client, logger),
			logger:      logger,
			concurrency: concurrency,
		}, nil
	case StrategySinglePrompt:
		return &SinglePromptStrategy{client: client, logger: logger, concurrency: concurrency}, nil
	default:
		return nil, fmt.Errorf("unknown analysis strategy %q", name)
	}
}

// BuildBatches groups requirements by section, sections in name order, and
// splits each section into batches of at most size requirements. A size below
// 1 keeps each section whole.
func BuildBatches(reqs []types.Requirement, size int) []Batch {
	bySection := make(map[string][]types.Requirement)
	var sections []string
	for _, r := range reqs {
		if _, ok := bySection[r.Section]; !ok {
			sections = append(sections, r.Section)
		}
		bySection[r.Section] = append(bySection[r.Section], r)
	}
	sort.Strings(sections)

	var batches []Batch
	for _, s := range sections {
		group := bySection[s]
		if size < 1 {
			batches = append(batches, Batch{Section: s, Requirements: group})
			continue
		}
		for start := 0; start < len(group); start += size {
			end := min(start+size, len(group))
			batches = append(batches, Batch{Section: s, Requirements: group[start:end]})
		}
	}
	return batches
}

var errNoUsableFinding = errors.New("no finding matched a requested requirement")

// allFailed returns the first gateway error when every batch failed with one.
// Malformed replies count as gateway failures, so a run that produced no usable
// finding at all fails instead of storing an all-default report.
func allFailed(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var first error
	for _, err := range errs {
		if err == nil || !llm.IsGatewayError(err) {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// StagedStrategy checks compliance for every batch, then evaluates the quality
// of the requirements found present.
type StagedStrategy struct {
	checker     *compliance.Checker
	evaluator   *quality.Evaluator
	logger      *zap.Logger
	concurrency int
}

// Name returns the strategy name
func (s *StagedStrategy) Name() string { return StrategyStaged }

// Analyze runs both stages. Quality evaluation starts only after every
// compliance batch has finished.
func (s *StagedStrategy) Analyze(ctx context.Context, planText string, batches []Batch, onQuality func()) (*Outcome, error) {
	checks := make([]compliance.Result, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range batches {
		g.Go(func() error {
			checks[i] = s.checker.Check(gctx, planText, batches[i].Requirements)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{}
	errs := make([]error, len(checks))
	for i, c := range checks {
		errs[i] = c.Err
		if c.Err != nil {
			out.FailedBatches++
			s.logger.Warn("compliance batch failed", zap.String("section", batches[i].Section), zap.Error(c.Err))
		}
		out.Compliance = append(out.Compliance, c.Findings...)
	}
	if err := allFailed(errs); err != nil {
		return nil, fmt.Errorf("compliance check failed for every batch: %w", err)
	}

	if onQuality != nil {
		onQuality()
	}

	evals := make([]quality.Result, len(batches))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range batches {
		present := presentRequirements(batches[i].Requirements, checks[i].Findings)
		if len(present) == 0 {
			continue
		}
		g.Go(func() error {
			evals[i] = s.evaluator.Evaluate(gctx, planText, present)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, e := range evals {
		if e.Err != nil {
			s.logger.Warn("quality batch degraded to defaults", zap.String("section", batches[i].Section), zap.Error(e.Err))
		}
		out.Quality = append(out.Quality, e.Findings...)
	}
	return out, nil
}

// presentRequirements pairs requirements with their findings, keeping present ones.
func presentRequirements(reqs []types.Requirement, findings []types.ComplianceFinding) []types.PresentRequirement {
	byID := make(map[string]types.ComplianceFinding, len(findings))
	for _, f := range findings {
		byID[f.RequirementID] = f
	}
	var out []types.PresentRequirement
	for _, r := range reqs {
		if f, ok := byID[r.ID]; ok && f.IsPresent {
			out = append(out, types.PresentRequirement{Requirement: r, Finding: f})
		}
	}
	return out
}

// combinedItem is one element of the single-prompt response.
type combinedItem struct {
	compliance.Item
	QualityRating *string  `json:"quality_rating"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
}

// SinglePromptStrategy asks for compliance and quality in one call per batch.
type SinglePromptStrategy struct {
	client      llm.Client
	logger      *zap.Logger
	concurrency int
}

// Name returns the strategy name
func (s *SinglePromptStrategy) Name() string { return StrategySinglePrompt }

type batchResult struct {
	compliance []types.ComplianceFinding
	quality    []types.QualityFinding
	err        error
}

// Analyze runs one combined call per batch and applies the same completeness
// rules as the staged strategy.
func (s *SinglePromptStrategy) Analyze(ctx context.Context, planText string, batches []Batch, onQuality func()) (*Outcome, error) {
	results := make([]batchResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range batches {
		g.Go(func() error {
			results[i] = s.analyzeBatch(gctx, planText, batches[i])
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{}
	errs := make([]error, len(results))
	for i, r := range results {
		errs[i] = r.err
		if r.err != nil {
			out.FailedBatches++
			s.logger.Warn("combined batch failed", zap.String("section", batches[i].Section), zap.Error(r.err))
		}
		out.Compliance = append(out.Compliance, r.compliance...)
		out.Quality = append(out.Quality, r.quality...)
	}
	if err := allFailed(errs); err != nil {
		return nil, fmt.Errorf("combined analysis failed for every batch: %w", err)
	}

	if onQuality != nil {
		onQuality()
	}
	return out, nil
}

func (s *SinglePromptStrategy) analyzeBatch(ctx context.Context, planText string, batch Batch) batchResult {
	reqs := batch.Requirements
	fallback := func(err error) batchResult {
		findings, _ := compliance.Reconcile(reqs, nil)
		return batchResult{compliance: findings, err: err}
	}

	userPrompt, err := prompts.Render(prompts.LegacyFile, prompts.KeyUser, map[string]string{
		"PlanText":     planText,
		"Requirements": compliance.FormatRequirements(reqs),
	})
	if err != nil {
		return fallback(err)
	}

	text, err := s.client.Generate(ctx, llm.Request{
		Conversation: []llm.Message{
			{Role: llm.RoleSystem, Text: prompts.MustGet(prompts.LegacyFile, prompts.KeySystem)},
			{Role: llm.RoleUser, Text: userPrompt},
		},
		Tier:   llm.TierAdvanced,
		Params: llm.FactualParams(),
		JSON:   true,
	})
	if err != nil {
		return fallback(err)
	}

	items, err := llm.ParseItems[combinedItem](text, schemas.CombinedItem)
	if err != nil {
		s.logger.Warn("combined response unusable", zap.String("section", batch.Section), zap.Error(err))
		return fallback(llm.Malformed(err))
	}

	var candidates []types.ComplianceFinding
	ratings := make(map[string]types.QualityFinding)
	for _, item := range items {
		if !item.OK() {
			continue
		}
		f := item.Value.Finding()
		candidates = append(candidates, f)
		if !f.IsPresent || item.Value.QualityRating == nil {
			continue
		}
		q, ok := quality.Item{
			RequirementID: f.RequirementID,
			QualityRating: *item.Value.QualityRating,
			Issues:        item.Value.Issues,
			Suggestions:   item.Value.Suggestions,
		}.Finding()
		if _, seen := ratings[f.RequirementID]; ok && !seen {
			ratings[f.RequirementID] = q
		}
	}

	findings, filled := compliance.Reconcile(reqs, candidates)
	if len(reqs) > 0 && filled == len(reqs) {
		return batchResult{compliance: findings, err: llm.Malformed(errNoUsableFinding)}
	}

	var presentReqs []types.Requirement
	var qualityCandidates []types.QualityFinding
	for _, p := range presentRequirements(reqs, findings) {
		presentReqs = append(presentReqs, p.Requirement)
		if q, ok := ratings[p.Requirement.ID]; ok {
			qualityCandidates = append(qualityCandidates, q)
		}
	}
	qualityFindings, _ := quality.Reconcile(presentReqs, qualityCandidates)

	return batchResult{compliance: findings, quality: qualityFindings}
}
