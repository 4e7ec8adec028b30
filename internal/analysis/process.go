package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/extraction"
	"github.com/jonathan/plan-compliance/internal/types"
)

// ProcessReferenceDocument extracts the requirements of a reference document
// and replaces any previously extracted ones. The stored set is left untouched
// unless extraction produced at least one requirement.
func (o *Orchestrator) ProcessReferenceDocument(ctx context.Context, documentID string) (*types.ProcessResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, &ValidationError{Field: "document_id", Message: "is required"}
	}
	log := o.logger.With(zap.String("document_id", documentID))

	doc, chunks, raw, err := o.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		chunks = ChunkText(raw, o.cfg.Chunking)
	}
	if len(chunks) == 0 {
		return nil, &InputError{Message: fmt.Sprintf("reference document %s has no content", documentID)}
	}

	result, err := o.extractor.Extract(ctx, chunks, extraction.DocumentMetadata{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Subtype:    doc.Subtype,
	})
	if err != nil {
		return nil, err
	}

	if len(result.Requirements) == 0 {
		return nil, &InputError{Message: fmt.Sprintf("no requirements could be extracted from reference document %s", documentID)}
	}

	if err := o.requirements.ReplaceRequirementsForDocument(ctx, documentID, result.Requirements); err != nil {
		return nil, storeErr("replace requirements", err)
	}

	log.Info("reference document processed",
		zap.Int("chunks", len(chunks)),
		zap.Int("failed_chunks", result.FailedChunks),
		zap.Int("requirements", len(result.Requirements)),
	)

	return &types.ProcessResult{
		DocumentID:            documentID,
		RequirementsCount:     len(result.Requirements),
		RequirementsBySection: result.BySection,
	}, nil
}

// ChunkText splits raw document text into document chunks carrying their
// header breadcrumb in metadata.
func ChunkText(text string, opts chunking.Options) []types.DocumentChunk {
	parts := chunking.Split(text, opts)
	chunks := make([]types.DocumentChunk, 0, len(parts))
	for _, p := range parts {
		c := types.DocumentChunk{Content: p.Text, Index: p.Index}
		if len(p.Headers) > 0 {
			c.Metadata = map[string]any{types.ChunkMetadataSectionPath: strings.Join(p.Headers, " > ")}
		}
		chunks = append(chunks, c)
	}
	return chunks
}
