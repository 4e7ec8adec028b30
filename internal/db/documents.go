package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/plan-compliance/internal/types"
)

// SaveDocument inserts or updates a document record.
func (db *DB) SaveDocument(ctx context.Context, doc *types.Document) error {
	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO documents (id, type, subtype, title, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET type = $2, subtype = $3, title = $4, metadata = $5`,
		doc.ID, doc.Type, nullIfEmpty(doc.Subtype), doc.Title, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// ReplaceDocumentChunks stores chunks for a document, dropping any previous ones.
func (db *DB) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []types.DocumentChunk) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO document_chunks (document_id, chunk_index, content, metadata) VALUES ($1, $2, $3, $4)`,
			documentID, c.Index, c.Content, metadata,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDocumentByID returns the document, or nil when it does not exist.
func (db *DB) GetDocumentByID(ctx context.Context, id string) (*types.Document, error) {
	var doc types.Document
	var subtype *string
	var metadata []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, type, subtype, title, metadata FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.Type, &subtype, &doc.Title, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	doc.Subtype = derefString(subtype)
	if doc.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &doc, nil
}

// GetDocumentChunks returns the document's chunks ordered by index.
func (db *DB) GetDocumentChunks(ctx context.Context, documentID string) ([]types.DocumentChunk, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT chunk_index, content, metadata FROM document_chunks
		 WHERE document_id = $1 ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.DocumentChunk
	for rows.Next() {
		var c types.DocumentChunk
		var metadata []byte
		if err := rows.Scan(&c.Index, &c.Content, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if c.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}
