// Package types provides type definitions for structured data used throughout the plan-compliance system.
package types

import "strings"

// Importance classifies how strongly a reference standard requires something.
type Importance string

// Importance levels assigned by the requirement extractor.
const (
	ImportanceCritical    Importance = "critical"
	ImportanceImportant   Importance = "important"
	ImportanceRecommended Importance = "recommended"
)

// DefaultSection is used when the model does not name a plan section.
const DefaultSection = "General"

// ParseImportance maps a model-supplied label onto an Importance.
// Common synonyms are accepted; anything unrecognized is treated as important.
func ParseImportance(s string) Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "high", "mandatory", "required", "must":
		return ImportanceCritical
	case "recommended", "low", "optional", "should", "may":
		return ImportanceRecommended
	default:
		return ImportanceImportant
	}
}

// Requirement is a single, source-traceable compliance rule extracted from a reference document.
type Requirement struct {
	ID                string     `json:"id"`
	Text              string     `json:"text"`
	Section           string     `json:"section"`
	Importance        Importance `json:"importance"`
	SourceSection     string     `json:"source_section,omitempty"`
	Keywords          []string   `json:"keywords,omitempty"`
	SourceDocumentIDs []string   `json:"source_document_ids"`
}

// HasSource reports whether documentID is one of the requirement's sources.
func (r *Requirement) HasSource(documentID string) bool {
	for _, id := range r.SourceDocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}
