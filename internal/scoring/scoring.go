// Package scoring aggregates compliance and quality findings into scores,
// classification bands and analysis reports.
package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/jonathan/plan-compliance/internal/types"
)

// Classification band labels.
const (
	BandStrongCompliance   = "Strong Compliance"
	BandModerateCompliance = "Moderate Compliance"
	BandSignificantGaps    = "Significant Improvements Needed"

	BandQualityExcellent = "Excellent"
	BandQualityAdequate  = "Adequate"
	BandQualityNeedsWork = "Needs Improvement"
)

// Band breakpoints shared by compliance and quality scores.
const (
	UpperBandMin  = 71
	MiddleBandMin = 41
)

// ComplianceScore is round(100*present/total), or 0 when total is 0.
func ComplianceScore(present, total int) int {
	if total <= 0 {
		return 0
	}
	return roundPercent(100 * float64(present) / float64(total))
}

// QualityScore maps ratings to poor=1, adequate=2, excellent=3 and returns
// round(100*mean/3). An empty input scores 0.
func QualityScore(ratings []types.QualityRating) int {
	if len(ratings) == 0 {
		return 0
	}
	points := make(stats.Float64Data, len(ratings))
	for i, r := range ratings {
		points[i] = r.Points()
	}
	mean, err := stats.Mean(points)
	if err != nil {
		return 0
	}
	return roundPercent(100 * mean / 3)
}

// ComplianceBand classifies a compliance score.
func ComplianceBand(score int) string {
	switch {
	case score >= UpperBandMin:
		return BandStrongCompliance
	case score >= MiddleBandMin:
		return BandModerateCompliance
	default:
		return BandSignificantGaps
	}
}

// QualityBand classifies a quality score with the compliance breakpoints.
func QualityBand(score int) string {
	switch {
	case score >= UpperBandMin:
		return BandQualityExcellent
	case score >= MiddleBandMin:
		return BandQualityAdequate
	default:
		return BandQualityNeedsWork
	}
}

func roundPercent(x float64) int {
	r, err := stats.Round(x, 0)
	if err != nil {
		return 0
	}
	return int(r)
}

// ReportInput is everything needed to aggregate one analysis run.
type ReportInput struct {
	ID                   string
	PlanID               string
	ReferenceDocumentIDs []string
	Strategy             string
	Requirements         []types.Requirement
	Compliance           []types.ComplianceFinding
	Quality              []types.QualityFinding
	AnalyzedAt           time.Time
}

// BuildReport aggregates findings into an AnalysisReport. Requirements without
// a compliance finding count as not present; quality findings for requirements
// that are not present are ignored.
func BuildReport(in ReportInput) *types.AnalysisReport {
	compliance := make(map[string]types.ComplianceFinding, len(in.Compliance))
	for _, f := range in.Compliance {
		if _, dup := compliance[f.RequirementID]; !dup {
			compliance[f.RequirementID] = f
		}
	}
	quality := make(map[string]types.QualityFinding, len(in.Quality))
	for _, f := range in.Quality {
		if _, dup := quality[f.RequirementID]; !dup {
			quality[f.RequirementID] = f
		}
	}

	type sectionAcc struct {
		total, present int
		ratings        []types.QualityRating
	}
	sections := make(map[string]*sectionAcc)
	var (
		present     int
		allRatings  []types.QualityRating
		missing     = []types.MissingRequirement{}
		suggestions = []types.ImprovementSuggestion{}
	)

	for _, req := range in.Requirements {
		acc, ok := sections[req.Section]
		if !ok {
			acc = &sectionAcc{}
			sections[req.Section] = acc
		}
		acc.total++

		if !compliance[req.ID].IsPresent {
			missing = append(missing, types.MissingRequirement{
				RequirementID: req.ID,
				Text:          req.Text,
				Section:       req.Section,
				Importance:    req.Importance,
			})
			continue
		}

		acc.present++
		present++

		qf, ok := quality[req.ID]
		if !ok {
			continue
		}
		acc.ratings = append(acc.ratings, qf.QualityRating)
		allRatings = append(allRatings, qf.QualityRating)

		if qf.QualityRating != types.QualityExcellent && hasAssessedIssue(qf.Issues) {
			suggestions = append(suggestions, types.ImprovementSuggestion{
				RequirementID:   req.ID,
				RequirementText: req.Text,
				Section:         req.Section,
				QualityRating:   qf.QualityRating,
				Issues:          qf.Issues,
				Suggestions:     qf.Suggestions,
			})
		}
	}

	scores := make(map[string]types.SectionScore, len(sections))
	for name, acc := range sections {
		scores[name] = types.SectionScore{
			Compliance:          ComplianceScore(acc.present, acc.total),
			Quality:             QualityScore(acc.ratings),
			RequirementsTotal:   acc.total,
			RequirementsPresent: acc.present,
		}
	}

	sortMissing(missing)

	refs := append([]string(nil), in.ReferenceDocumentIDs...)
	return &types.AnalysisReport{
		ID:                     in.ID,
		PlanID:                 in.PlanID,
		ReferenceDocumentIDs:   refs,
		Strategy:               in.Strategy,
		OverallComplianceScore: ComplianceScore(present, len(in.Requirements)),
		OverallQualityScore:    QualityScore(allRatings),
		SectionScores:          scores,
		MissingRequirements:    missing,
		ImprovementSuggestions: suggestions,
		AnalyzedAt:             in.AnalyzedAt,
	}
}

var importanceRank = map[types.Importance]int{
	types.ImportanceCritical:    0,
	types.ImportanceImportant:   1,
	types.ImportanceRecommended: 2,
}

// sortMissing orders missing requirements by importance then section, keeping
// input order otherwise.
func sortMissing(missing []types.MissingRequirement) {
	sort.SliceStable(missing, func(i, j int) bool {
		ri, rj := importanceRank[missing[i].Importance], importanceRank[missing[j].Importance]
		if ri != rj {
			return ri < rj
		}
		return missing[i].Section < missing[j].Section
	})
}

// hasAssessedIssue reports whether issues holds anything besides blanks and
// the placeholder of a defaulted assessment.
func hasAssessedIssue(issues []string) bool {
	for _, s := range issues {
		if s = strings.TrimSpace(s); s != "" && s != types.PlaceholderIssue {
			return true
		}
	}
	return false
}
