// Package compliance decides, for each requirement, whether a plan addresses it.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/prompts"
	"github.com/jonathan/plan-compliance/internal/schemas"
	"github.com/jonathan/plan-compliance/internal/types"
)

var errNoMatch = errors.New("no finding matched a requested requirement")

// Result holds exactly one finding per requested requirement, in request order.
// Err is set when the model call failed or its reply held no usable finding;
// the findings are then all defaults.
type Result struct {
	Findings []types.ComplianceFinding
	// Defaulted counts findings filled in because the model gave no usable answer
	Defaulted int
	Err       error
}

// PresentCount returns the number of findings marking their requirement present.
func (r *Result) PresentCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.IsPresent {
			n++
		}
	}
	return n
}

// Item is one compliance finding as returned by the model.
type Item struct {
	RequirementID string  `json:"requirement_id"`
	IsPresent     bool    `json:"isPresent"`
	Location      *string `json:"location"`
	Evidence      *string `json:"evidence"`
}

// Finding converts the item to a normalized finding.
func (it Item) Finding() types.ComplianceFinding {
	f := types.ComplianceFinding{
		RequirementID: strings.TrimSpace(it.RequirementID),
		IsPresent:     it.IsPresent,
		Location:      trimmed(it.Location),
		Evidence:      trimmed(it.Evidence),
	}
	f.Normalize()
	return f
}

// Checker runs the compliance prompt.
type Checker struct {
	client llm.Client
	logger *zap.Logger
}

// NewChecker creates a Checker. A nil logger disables logging.
func NewChecker(client llm.Client, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{client: client, logger: logger}
}

// Check asks the model which requirements the plan addresses.
func (c *Checker) Check(ctx context.Context, planText string, requirements []types.Requirement) Result {
	if len(requirements) == 0 {
		return Result{}
	}

	userPrompt, err := prompts.Render(prompts.ComplianceFile, prompts.KeyUser, map[string]string{
		"PlanText":     planText,
		"Requirements": FormatRequirements(requirements),
	})
	if err != nil {
		return defaulted(requirements, err)
	}

	text, err := c.client.Generate(ctx, llm.Request{
		Conversation: []llm.Message{
			{Role: llm.RoleSystem, Text: prompts.MustGet(prompts.ComplianceFile, prompts.KeySystem)},
			{Role: llm.RoleUser, Text: userPrompt},
		},
		Tier:   llm.TierStandard,
		Params: llm.FactualParams(),
		JSON:   true,
	})
	if err != nil {
		c.logger.Warn("compliance check failed", zap.Int("requirements", len(requirements)), zap.Error(err))
		return defaulted(requirements, err)
	}

	items, err := llm.ParseItems[Item](text, schemas.ComplianceItem)
	if err != nil {
		c.logger.Warn("compliance response unusable", zap.Error(err))
		return defaulted(requirements, llm.Malformed(err))
	}

	candidates := make([]types.ComplianceFinding, 0, len(items))
	for _, item := range items {
		if item.OK() {
			candidates = append(candidates, item.Value.Finding())
		}
	}

	findings, filled := Reconcile(requirements, candidates)
	if filled == len(requirements) {
		c.logger.Warn("compliance response matched no requirement", zap.Int("items", len(items)))
		return Result{Findings: findings, Defaulted: filled, Err: llm.Malformed(errNoMatch)}
	}
	if filled > 0 {
		c.logger.Debug("compliance findings defaulted", zap.Int("count", filled))
	}
	return Result{Findings: findings, Defaulted: filled}
}

// Reconcile returns one finding per requirement in requirement order. Candidates
// for unknown requirements and repeated candidates are discarded, the first one
// winning. Requirements without a candidate get the not-present default; the
// number of such defaults is returned.
func Reconcile(requirements []types.Requirement, candidates []types.ComplianceFinding) ([]types.ComplianceFinding, int) {
	byID := make(map[string]types.ComplianceFinding, len(candidates))
	wanted := make(map[string]bool, len(requirements))
	for _, r := range requirements {
		wanted[r.ID] = true
	}
	for _, c := range candidates {
		if !wanted[c.RequirementID] {
			continue
		}
		if _, dup := byID[c.RequirementID]; dup {
			continue
		}
		c.Normalize()
		byID[c.RequirementID] = c
	}

	findings := make([]types.ComplianceFinding, len(requirements))
	filled := 0
	for i, r := range requirements {
		f, ok := byID[r.ID]
		if !ok {
			f = types.NotPresent(r.ID)
			filled++
		}
		findings[i] = f
	}
	return findings, filled
}

// FormatRequirements renders requirements as "[id] text" lines.
func FormatRequirements(requirements []types.Requirement) string {
	var sb strings.Builder
	for i, r := range requirements {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%s] %s", r.ID, r.Text)
	}
	return sb.String()
}

func defaulted(requirements []types.Requirement, err error) Result {
	findings, filled := Reconcile(requirements, nil)
	return Result{Findings: findings, Defaulted: filled, Err: err}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
