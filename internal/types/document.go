package types

// Document types known to the pipeline.
const (
	DocumentTypePlan      = "plan"
	DocumentTypeReference = "reference"
)

// Document is the metadata record of an uploaded plan or reference standard.
type Document struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtype  string         `json:"subtype,omitempty"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns a string metadata value, or "" when absent.
func (d *Document) MetadataString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	if v, ok := d.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// DocumentChunk is a stored, pre-split segment of a document.
type DocumentChunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Index    int            `json:"index"`
}

// ProcessResult summarizes requirement extraction for one reference document.
type ProcessResult struct {
	DocumentID            string         `json:"document_id"`
	RequirementsCount     int            `json:"requirements_count"`
	RequirementsBySection map[string]int `json:"requirements_by_section"`
}

// ReconcileResult summarizes cross-standard requirement reconciliation.
type ReconcileResult struct {
	SectionsProcessed int `json:"sections_processed"`
	MappingsFound     int `json:"mappings_found"`
}

// Document metadata keys locating the raw uploaded file.
const (
	MetadataBucket   = "bucket"
	MetadataFilePath = "file_path"
	MetadataMIMEType = "mime_type"
)

// Chunk metadata key holding the header breadcrumb of a chunk.
const ChunkMetadataSectionPath = "section_path"
