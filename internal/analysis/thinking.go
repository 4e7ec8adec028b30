package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonathan/plan-compliance/internal/scoring"
	"github.com/jonathan/plan-compliance/internal/types"
)

// maxListed caps the per-step detail lists of the thinking process.
const maxListed = 10

// GetThinkingProcess explains how the latest report of a plan was scored. It
// reads the stored report only and makes no model call.
func (o *Orchestrator) GetThinkingProcess(ctx context.Context, planID string) (*types.ThinkingProcess, error) {
	report, err := o.GetLatestReport(ctx, planID)
	if err != nil {
		return nil, err
	}
	return BuildThinkingProcess(report), nil
}

// BuildThinkingProcess derives the narrative from a report. The same report
// always yields the same steps.
func BuildThinkingProcess(report *types.AnalysisReport) *types.ThinkingProcess {
	total, present := report.Totals()
	missing := len(report.MissingRequirements)
	sections := sortedSections(report.SectionScores)

	var steps []types.ThinkingStep

	inventory := types.ThinkingStep{
		Title: "Requirement inventory",
		Description: fmt.Sprintf("Collected %d requirements from %d reference %s across %d %s.",
			total, len(report.ReferenceDocumentIDs), plural(len(report.ReferenceDocumentIDs), "document", "documents"),
			len(sections), plural(len(sections), "section", "sections")),
	}
	for _, name := range sections {
		inventory.Details = append(inventory.Details, fmt.Sprintf("%s: %d requirements", name, report.SectionScores[name].RequirementsTotal))
	}
	steps = append(steps, inventory)

	check := types.ThinkingStep{
		Title:       "Compliance check",
		Description: fmt.Sprintf("The plan addresses %d of %d requirements; %d %s missing.", present, total, missing, plural(missing, "is", "are")),
	}
	for i, m := range report.MissingRequirements {
		if i == maxListed {
			check.Details = append(check.Details, fmt.Sprintf("and %d more", missing-maxListed))
			break
		}
		check.Details = append(check.Details, fmt.Sprintf("[%s] %s: %s", m.Importance, m.Section, m.Text))
	}
	steps = append(steps, check)

	score := types.ThinkingStep{Title: "Compliance score"}
	if total == 0 {
		score.Description = "No requirements were evaluated, so the compliance score is 0%."
	} else {
		score.Description = fmt.Sprintf("Compliance score = round(100 × present / total) = round(100 × %d / %d) = %d%%.",
			present, total, report.OverallComplianceScore)
	}
	steps = append(steps, score)

	band := scoring.ComplianceBand(report.OverallComplianceScore)
	steps = append(steps, types.ThinkingStep{
		Title:       "Classification",
		Description: fmt.Sprintf("A score of %d%% is classified as %q.", report.OverallComplianceScore, band),
		Details: []string{
			fmt.Sprintf("%d%% and above: %s", scoring.UpperBandMin, scoring.BandStrongCompliance),
			fmt.Sprintf("%d%% to %d%%: %s", scoring.MiddleBandMin, scoring.UpperBandMin-1, scoring.BandModerateCompliance),
			fmt.Sprintf("%d%% and below: %s", scoring.MiddleBandMin-1, scoring.BandSignificantGaps),
		},
	})

	qualityStep := types.ThinkingStep{Title: "Quality assessment"}
	if present == 0 {
		qualityStep.Description = "No requirement was found in the plan, so no quality assessment was made."
	} else {
		qualityStep.Description = fmt.Sprintf("Each present requirement was rated poor (1), adequate (2) or excellent (3). Quality score = round(100 × average rating / 3) = %d%%, classified as %q.",
			report.OverallQualityScore, scoring.QualityBand(report.OverallQualityScore))
		qualityStep.Details = []string{fmt.Sprintf("%d requirements have improvement suggestions", len(report.ImprovementSuggestions))}
	}
	steps = append(steps, qualityStep)

	breakdown := types.ThinkingStep{Title: "Section breakdown", Description: "Scores per plan section."}
	for _, name := range sections {
		s := report.SectionScores[name]
		breakdown.Details = append(breakdown.Details, fmt.Sprintf("%s: %d/%d present, compliance %d%%, quality %d%%",
			name, s.RequirementsPresent, s.RequirementsTotal, s.Compliance, s.Quality))
	}
	steps = append(steps, breakdown)

	steps = append(steps, recommendations(report))

	return &types.ThinkingProcess{Steps: steps, RawData: report}
}

func recommendations(report *types.AnalysisReport) types.ThinkingStep {
	step := types.ThinkingStep{Title: "Recommendations"}
	for _, m := range report.MissingRequirements {
		if len(step.Details) == maxListed {
			break
		}
		if m.Importance == types.ImportanceCritical {
			step.Details = append(step.Details, fmt.Sprintf("Add coverage for %q (%s).", m.Text, m.Section))
		}
	}
	for _, s := range report.ImprovementSuggestions {
		if len(step.Details) == maxListed {
			break
		}
		if len(s.Suggestions) > 0 {
			step.Details = append(step.Details, fmt.Sprintf("%s: %s", s.Section, s.Suggestions[0]))
		}
	}

	switch {
	case len(step.Details) == 0 && len(report.MissingRequirements) == 0:
		step.Description = "The plan covers every requirement; no changes are needed."
	case len(step.Details) == 0:
		step.Description = "Review the missing requirements listed above."
	default:
		step.Description = "Address critical gaps first, then improve weakly implemented requirements."
	}
	return step
}

func sortedSections(scores map[string]types.SectionScore) []string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
