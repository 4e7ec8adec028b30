package types

// QualityRating is the implementation quality of a present requirement.
type QualityRating string

// Quality ratings, ordered from worst to best.
const (
	QualityPoor      QualityRating = "poor"
	QualityAdequate  QualityRating = "adequate"
	QualityExcellent QualityRating = "excellent"
)

// ParseQualityRating returns the rating for s and whether s was one of the three allowed values.
func ParseQualityRating(s string) (QualityRating, bool) {
	switch QualityRating(s) {
	case QualityPoor, QualityAdequate, QualityExcellent:
		return QualityRating(s), true
	}
	return "", false
}

// Points maps a rating onto the 1..3 scale used for quality scoring.
func (q QualityRating) Points() float64 {
	switch q {
	case QualityPoor:
		return 1
	case QualityExcellent:
		return 3
	default:
		return 2
	}
}

// ComplianceFinding is the result of checking one requirement against one plan.
// Location and Evidence are only set when IsPresent is true.
type ComplianceFinding struct {
	RequirementID string  `json:"requirement_id"`
	AnalysisID    string  `json:"analysis_id,omitempty"`
	IsPresent     bool    `json:"is_present"`
	Location      *string `json:"location"`
	Evidence      *string `json:"evidence"`
}

// NotPresent returns the default finding used when a requirement could not be confirmed.
func NotPresent(requirementID string) ComplianceFinding {
	return ComplianceFinding{RequirementID: requirementID}
}

// Normalize enforces the location/evidence invariant and drops blank strings.
func (f *ComplianceFinding) Normalize() {
	if !f.IsPresent {
		f.Location = nil
		f.Evidence = nil
		return
	}
	if f.Location != nil && *f.Location == "" {
		f.Location = nil
	}
	if f.Evidence != nil && *f.Evidence == "" {
		f.Evidence = nil
	}
}

// QualityFinding is the quality assessment of a requirement found present in a plan.
type QualityFinding struct {
	RequirementID string        `json:"requirement_id"`
	AnalysisID    string        `json:"analysis_id,omitempty"`
	QualityRating QualityRating `json:"quality_rating"`
	Issues        []string      `json:"issues"`
	Suggestions   []string      `json:"suggestions"`
}

// Placeholder texts for quality findings the model did not return.
const (
	PlaceholderIssue      = "Quality could not be assessed automatically"
	PlaceholderSuggestion = "Review this requirement manually against the reference standard"
)

// DefaultQuality returns the finding used when the model produced no usable assessment.
func DefaultQuality(requirementID string) QualityFinding {
	return QualityFinding{
		RequirementID: requirementID,
		QualityRating: QualityAdequate,
		Issues:        []string{PlaceholderIssue},
		Suggestions:   []string{PlaceholderSuggestion},
	}
}

// PresentRequirement pairs a requirement with the compliance finding that marked it present.
type PresentRequirement struct {
	Requirement Requirement
	Finding     ComplianceFinding
}
