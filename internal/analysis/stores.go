package analysis

import (
	"context"

	"github.com/jonathan/plan-compliance/internal/types"
)

// DocumentStore reads uploaded documents and their stored chunks.
// GetDocumentByID returns nil, nil when the document does not exist.
type DocumentStore interface {
	GetDocumentByID(ctx context.Context, id string) (*types.Document, error)
	GetDocumentChunks(ctx context.Context, documentID string) ([]types.DocumentChunk, error)
}

// FileStore downloads the raw upload of a document.
type FileStore interface {
	DownloadRawFile(ctx context.Context, bucket, path string) ([]byte, error)
}

// RequirementStore persists extracted requirements and their source links.
type RequirementStore interface {
	// ReplaceRequirementsForDocument atomically unlinks the document from its
	// current requirements, deletes those left without a source, and stores
	// reqs linked to the document and to their own sources. On error nothing changes.
	ReplaceRequirementsForDocument(ctx context.Context, documentID string, reqs []types.Requirement) error
	LinkRequirementToSource(ctx context.Context, requirementID, documentID string) error
	// GetRequirementsForDocuments returns every requirement linked to any of the
	// documents, each with all of its source document IDs.
	GetRequirementsForDocuments(ctx context.Context, documentIDs []string) ([]types.Requirement, error)
}

// ReportStore persists analysis reports and findings.
// GetLatestReport returns nil, nil when the plan has no report.
type ReportStore interface {
	InsertReport(ctx context.Context, report *types.AnalysisReport) error
	InsertFindings(ctx context.Context, analysisID string, compliance []types.ComplianceFinding, quality []types.QualityFinding) error
	GetLatestReport(ctx context.Context, planID string) (*types.AnalysisReport, error)
}

// Stores bundles the persistence dependencies of an Orchestrator.
type Stores struct {
	Documents    DocumentStore
	Files        FileStore
	Requirements RequirementStore
	Reports      ReportStore
}
