package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/plan-compliance/internal/types"
)

const (
	insertRequirementSQL = `INSERT INTO requirements (id, text, section, importance, source_section, keywords)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	linkRequirementSQL = `INSERT INTO requirement_sources (requirement_id, document_id)
		 VALUES ($1, $2)
		 ON CONFLICT (requirement_id, document_id) DO NOTHING`

	// unlinkDocumentSQL removes the document's links and the requirements it
	// was the only source of.
	unlinkDocumentSQL = `WITH removed AS (
		     DELETE FROM requirement_sources WHERE document_id = $1
		     RETURNING requirement_id
		 )
		 DELETE FROM requirements r
		 WHERE r.id IN (SELECT requirement_id FROM removed)
		   AND NOT EXISTS (SELECT 1 FROM requirement_sources s
		                   WHERE s.requirement_id = r.id AND s.document_id <> $1)`
)

// LinkRequirementToSource records that a document imposes the requirement.
// Linking twice is a no-op.
func (db *DB) LinkRequirementToSource(ctx context.Context, requirementID, documentID string) error {
	_, err := db.pool.Exec(ctx, linkRequirementSQL, requirementID, documentID)
	if err != nil {
		return fmt.Errorf("failed to link requirement %s to %s: %w", requirementID, documentID, err)
	}
	return nil
}

// GetRequirementsForDocuments returns every requirement linked to any of the
// documents, in insertion order, each with all of its sources.
func (db *DB) GetRequirementsForDocuments(ctx context.Context, documentIDs []string) ([]types.Requirement, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT r.id, r.text, r.section, r.importance, r.source_section, r.keywords,
		        ARRAY(SELECT s.document_id FROM requirement_sources s
		              WHERE s.requirement_id = r.id ORDER BY s.linked_at, s.document_id)
		 FROM requirements r
		 WHERE EXISTS (SELECT 1 FROM requirement_sources s
		               WHERE s.requirement_id = r.id AND s.document_id = ANY($1))
		 ORDER BY r.seq`,
		documentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements: %w", err)
	}
	defer rows.Close()

	var reqs []types.Requirement
	for rows.Next() {
		var r types.Requirement
		var importance string
		var sourceSection *string
		if err := rows.Scan(&r.ID, &r.Text, &r.Section, &importance, &sourceSection, &r.Keywords, &r.SourceDocumentIDs); err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		r.Importance = types.Importance(importance)
		r.SourceSection = derefString(sourceSection)
		if len(r.Keywords) == 0 {
			r.Keywords = nil
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requirements: %w", err)
	}
	return reqs, nil
}

// ReplaceRequirementsForDocument unlinks the document from its requirements,
// deletes the ones it was the only source of and inserts reqs linked to the
// document and to their own sources, all in one transaction.
func (db *DB) ReplaceRequirementsForDocument(ctx context.Context, documentID string, reqs []types.Requirement) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, unlinkDocumentSQL, documentID); err != nil {
		return fmt.Errorf("failed to delete requirements for %s: %w", documentID, err)
	}

	batch := &pgx.Batch{}
	for _, r := range reqs {
		batch.Queue(insertRequirementSQL,
			r.ID, r.Text, r.Section, string(r.Importance), nullIfEmpty(r.SourceSection), nonNil(r.Keywords))
		batch.Queue(linkRequirementSQL, r.ID, documentID)
		for _, source := range r.SourceDocumentIDs {
			batch.Queue(linkRequirementSQL, r.ID, source)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert requirements for %s: %w", documentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
