package types

import "time"

// SectionScore aggregates findings for one plan section.
type SectionScore struct {
	Compliance          int `json:"compliance"`
	Quality             int `json:"quality"`
	RequirementsTotal   int `json:"requirements_total"`
	RequirementsPresent int `json:"requirements_present"`
}

// MissingRequirement is a requirement the plan does not address, carried for display.
type MissingRequirement struct {
	RequirementID string     `json:"requirement_id"`
	Text          string     `json:"text"`
	Section       string     `json:"section"`
	Importance    Importance `json:"importance"`
}

// ImprovementSuggestion is a quality finding with issues worth acting on.
type ImprovementSuggestion struct {
	RequirementID   string        `json:"requirement_id"`
	RequirementText string        `json:"requirement_text"`
	Section         string        `json:"section"`
	QualityRating   QualityRating `json:"quality_rating"`
	Issues          []string      `json:"issues"`
	Suggestions     []string      `json:"suggestions"`
}

// AnalysisReport is the aggregated output of one analysis run. It is immutable once stored.
type AnalysisReport struct {
	ID                     string                  `json:"id"`
	PlanID                 string                  `json:"plan_id"`
	ReferenceDocumentIDs   []string                `json:"reference_document_ids"`
	Strategy               string                  `json:"strategy,omitempty"`
	OverallComplianceScore int                     `json:"overall_compliance_score"`
	OverallQualityScore    int                     `json:"overall_quality_score"`
	SectionScores          map[string]SectionScore `json:"section_scores"`
	MissingRequirements    []MissingRequirement    `json:"missing_requirements"`
	ImprovementSuggestions []ImprovementSuggestion `json:"improvement_suggestions"`
	AnalyzedAt             time.Time               `json:"analyzed_at"`
}

// Totals sums requirement counts across all sections.
func (r *AnalysisReport) Totals() (total, present int) {
	for _, s := range r.SectionScores {
		total += s.RequirementsTotal
		present += s.RequirementsPresent
	}
	return total, present
}

// ThinkingStep is one entry of the narrative explaining how a report was scored.
type ThinkingStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Details     []string `json:"details,omitempty"`
}

// ThinkingProcess is the deterministic narrative derived from a stored report.
type ThinkingProcess struct {
	Steps   []ThinkingStep  `json:"steps"`
	RawData *AnalysisReport `json:"raw_data"`
}
