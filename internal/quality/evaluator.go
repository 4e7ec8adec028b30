// Package quality rates how well a plan implements the requirements it addresses.
package quality

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/prompts"
	"github.com/jonathan/plan-compliance/internal/schemas"
	"github.com/jonathan/plan-compliance/internal/types"
)

// Result holds one quality finding per present requirement, in input order.
type Result struct {
	Findings []types.QualityFinding
	// Skipped counts inputs that were not marked present and so were not evaluated
	Skipped int
	// Defaulted counts findings filled with the placeholder assessment
	Defaulted int
	Err       error
}

// Item is one quality assessment as returned by the model.
type Item struct {
	RequirementID string   `json:"requirement_id"`
	QualityRating string   `json:"quality_rating"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
}

// Finding converts the item, reporting false when the rating is not one of the allowed values.
func (it Item) Finding() (types.QualityFinding, bool) {
	rating, ok := types.ParseQualityRating(strings.ToLower(strings.TrimSpace(it.QualityRating)))
	if !ok {
		return types.QualityFinding{}, false
	}
	return types.QualityFinding{
		RequirementID: strings.TrimSpace(it.RequirementID),
		QualityRating: rating,
		Issues:        cleanList(it.Issues),
		Suggestions:   cleanList(it.Suggestions),
	}, true
}

// Evaluator runs the quality prompt.
type Evaluator struct {
	client llm.Client
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger disables logging.
func NewEvaluator(client llm.Client, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{client: client, logger: logger}
}

// Evaluate rates the present requirements. Inputs whose finding is not present
// are dropped before the model is called.
func (e *Evaluator) Evaluate(ctx context.Context, planText string, inputs []types.PresentRequirement) Result {
	present := make([]types.PresentRequirement, 0, len(inputs))
	for _, in := range inputs {
		if !in.Finding.IsPresent {
			e.logger.Warn("skipping quality evaluation of absent requirement", zap.String("requirement_id", in.Requirement.ID))
			continue
		}
		present = append(present, in)
	}
	skipped := len(inputs) - len(present)
	if len(present) == 0 {
		return Result{Skipped: skipped}
	}

	reqs := make([]types.Requirement, len(present))
	for i, p := range present {
		reqs[i] = p.Requirement
	}

	userPrompt, err := prompts.Render(prompts.QualityFile, prompts.KeyUser, map[string]string{
		"PlanText":     planText,
		"Requirements": formatPresent(present),
	})
	if err != nil {
		return defaulted(reqs, skipped, err)
	}

	text, err := e.client.Generate(ctx, llm.Request{
		Conversation: []llm.Message{
			{Role: llm.RoleSystem, Text: prompts.MustGet(prompts.QualityFile, prompts.KeySystem)},
			{Role: llm.RoleUser, Text: userPrompt},
		},
		Tier:   llm.TierAdvanced,
		Params: llm.FactualParams(),
		JSON:   true,
	})
	if err != nil {
		e.logger.Warn("quality evaluation failed", zap.Int("requirements", len(reqs)), zap.Error(err))
		return defaulted(reqs, skipped, err)
	}

	items, err := llm.ParseItems[Item](text, schemas.QualityItem)
	if err != nil {
		e.logger.Warn("quality response unusable", zap.Error(err))
		return defaulted(reqs, skipped, nil)
	}

	var candidates []types.QualityFinding
	for _, item := range items {
		if !item.OK() {
			continue
		}
		if f, ok := item.Value.Finding(); ok {
			candidates = append(candidates, f)
		}
	}

	findings, filled := Reconcile(reqs, candidates)
	return Result{Findings: findings, Skipped: skipped, Defaulted: filled}
}

// Reconcile returns one finding per requirement in requirement order, keeping
// the first candidate per known requirement and filling the rest with
// types.DefaultQuality.
func Reconcile(requirements []types.Requirement, candidates []types.QualityFinding) ([]types.QualityFinding, int) {
	wanted := make(map[string]bool, len(requirements))
	for _, r := range requirements {
		wanted[r.ID] = true
	}
	byID := make(map[string]types.QualityFinding, len(candidates))
	for _, c := range candidates {
		if !wanted[c.RequirementID] {
			continue
		}
		if _, dup := byID[c.RequirementID]; !dup {
			byID[c.RequirementID] = c
		}
	}

	findings := make([]types.QualityFinding, len(requirements))
	filled := 0
	for i, r := range requirements {
		f, ok := byID[r.ID]
		if !ok {
			f = types.DefaultQuality(r.ID)
			filled++
		}
		findings[i] = f
	}
	return findings, filled
}

// formatPresent renders "[id] text | location | evidence" lines.
func formatPresent(present []types.PresentRequirement) string {
	var sb strings.Builder
	for i, p := range present {
		if i > 0 {
			sb.WriteByte('\n')
		}
		where := "location not stated"
		if p.Finding.Location != nil && *p.Finding.Location != "" {
			where = *p.Finding.Location
		}
		evidence := "no excerpt"
		if p.Finding.Evidence != nil {
			if e := strings.Join(strings.Fields(*p.Finding.Evidence), " "); e != "" {
				evidence = fmt.Sprintf("%q", e)
			}
		}
		fmt.Fprintf(&sb, "[%s] %s | %s | %s", p.Requirement.ID, p.Requirement.Text, where, evidence)
	}
	return sb.String()
}

func defaulted(reqs []types.Requirement, skipped int, err error) Result {
	findings, filled := Reconcile(reqs, nil)
	return Result{Findings: findings, Skipped: skipped, Defaulted: filled, Err: err}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
