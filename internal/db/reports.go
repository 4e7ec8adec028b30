package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/plan-compliance/internal/types"
)

// InsertFindings stores the per-requirement findings of one analysis in a
// single transaction.
func (db *DB) InsertFindings(ctx context.Context, analysisID string, compliance []types.ComplianceFinding, quality []types.QualityFinding) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, f := range compliance {
		batch.Queue(
			`INSERT INTO compliance_findings (analysis_id, requirement_id, is_present, location, evidence)
			 VALUES ($1, $2, $3, $4, $5)`,
			analysisID, f.RequirementID, f.IsPresent, f.Location, f.Evidence,
		)
	}
	for _, f := range quality {
		batch.Queue(
			`INSERT INTO quality_findings (analysis_id, requirement_id, quality_rating, issues, suggestions)
			 VALUES ($1, $2, $3, $4, $5)`,
			analysisID, f.RequirementID, string(f.QualityRating), nonNil(f.Issues), nonNil(f.Suggestions),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert findings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetFindings returns the stored findings of one analysis ordered by requirement.
func (db *DB) GetFindings(ctx context.Context, analysisID string) ([]types.ComplianceFinding, []types.QualityFinding, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT requirement_id, is_present, location, evidence FROM compliance_findings
		 WHERE analysis_id = $1 ORDER BY requirement_id`,
		analysisID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get compliance findings: %w", err)
	}
	var compliance []types.ComplianceFinding
	for rows.Next() {
		f := types.ComplianceFinding{AnalysisID: analysisID}
		if err := rows.Scan(&f.RequirementID, &f.IsPresent, &f.Location, &f.Evidence); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan compliance finding: %w", err)
		}
		compliance = append(compliance, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate compliance findings: %w", err)
	}

	rows, err = db.pool.Query(ctx,
		`SELECT requirement_id, quality_rating, issues, suggestions FROM quality_findings
		 WHERE analysis_id = $1 ORDER BY requirement_id`,
		analysisID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get quality findings: %w", err)
	}
	defer rows.Close()
	var quality []types.QualityFinding
	for rows.Next() {
		f := types.QualityFinding{AnalysisID: analysisID}
		var rating string
		if err := rows.Scan(&f.RequirementID, &rating, &f.Issues, &f.Suggestions); err != nil {
			return nil, nil, fmt.Errorf("failed to scan quality finding: %w", err)
		}
		f.QualityRating = types.QualityRating(rating)
		quality = append(quality, f)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate quality findings: %w", err)
	}
	return compliance, quality, nil
}

// InsertReport stores a finished analysis report.
func (db *DB) InsertReport(ctx context.Context, report *types.AnalysisReport) error {
	sections, err := json.Marshal(report.SectionScores)
	if err != nil {
		return fmt.Errorf("failed to marshal section scores: %w", err)
	}
	missing, err := json.Marshal(report.MissingRequirements)
	if err != nil {
		return fmt.Errorf("failed to marshal missing requirements: %w", err)
	}
	suggestions, err := json.Marshal(report.ImprovementSuggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal improvement suggestions: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO analysis_reports (id, plan_id, reference_document_ids, strategy,
		     overall_compliance_score, overall_quality_score, section_scores,
		     missing_requirements, improvement_suggestions, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		report.ID, report.PlanID, nonNil(report.ReferenceDocumentIDs), nullIfEmpty(report.Strategy),
		report.OverallComplianceScore, report.OverallQualityScore, sections,
		missing, suggestions, report.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", report.ID, err)
	}
	return nil
}

// GetLatestReport returns the plan's most recent report, or nil when none exists.
func (db *DB) GetLatestReport(ctx context.Context, planID string) (*types.AnalysisReport, error) {
	var r types.AnalysisReport
	var strategy *string
	var sections, missing, suggestions []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, plan_id, reference_document_ids, strategy, overall_compliance_score,
		        overall_quality_score, section_scores, missing_requirements,
		        improvement_suggestions, analyzed_at
		 FROM analysis_reports WHERE plan_id = $1
		 ORDER BY analyzed_at DESC, created_at DESC LIMIT 1`,
		planID,
	).Scan(&r.ID, &r.PlanID, &r.ReferenceDocumentIDs, &strategy, &r.OverallComplianceScore,
		&r.OverallQualityScore, &sections, &missing, &suggestions, &r.AnalyzedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}
	r.Strategy = derefString(strategy)

	if err := json.Unmarshal(sections, &r.SectionScores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal section scores: %w", err)
	}
	if err := json.Unmarshal(missing, &r.MissingRequirements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal missing requirements: %w", err)
	}
	if err := json.Unmarshal(suggestions, &r.ImprovementSuggestions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal improvement suggestions: %w", err)
	}
	r.AnalyzedAt = r.AnalyzedAt.UTC()
	return &r, nil
}
