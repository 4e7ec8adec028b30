// Package memory is an in-process implementation of the document, requirement,
// report and file stores, used by the local CLI mode and by tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonathan/plan-compliance/internal/types"
)

// ErrFileNotFound is returned by DownloadRawFile for unknown paths.
var ErrFileNotFound = errors.New("file not found")

// Store keeps every record in maps guarded by one mutex. Returned values are copies.
type Store struct {
	mu sync.RWMutex

	documents map[string]types.Document
	chunks    map[string][]types.DocumentChunk
	files     map[string][]byte

	reqs requirementSet

	reports            []types.AnalysisReport
	complianceFindings map[string][]types.ComplianceFinding
	qualityFindings    map[string][]types.QualityFinding
}

// New creates an empty store
func New() *Store {
	return &Store{
		documents:          make(map[string]types.Document),
		chunks:             make(map[string][]types.DocumentChunk),
		files:              make(map[string][]byte),
		reqs:               newRequirementSet(),
		complianceFindings: make(map[string][]types.ComplianceFinding),
		qualityFindings:    make(map[string][]types.QualityFinding),
	}
}

// PutDocument adds or replaces a document and its chunks.
func (s *Store) PutDocument(doc types.Document, chunks []types.DocumentChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	s.chunks[doc.ID] = append([]types.DocumentChunk(nil), chunks...)
}

// PutFile stores raw bytes under bucket/path.
func (s *Store) PutFile(bucket, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey(bucket, path)] = append([]byte(nil), data...)
}

// GetDocumentByID returns nil, nil when the document does not exist.
func (s *Store) GetDocumentByID(_ context.Context, id string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// GetDocumentChunks returns the document's chunks ordered by index.
func (s *Store) GetDocumentChunks(_ context.Context, documentID string) ([]types.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := append([]types.DocumentChunk(nil), s.chunks[documentID]...)
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DownloadRawFile returns the bytes stored under bucket/path.
func (s *Store) DownloadRawFile(_ context.Context, bucket, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[fileKey(bucket, path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", fileKey(bucket, path), ErrFileNotFound)
	}
	return append([]byte(nil), data...), nil
}

// InsertRequirement stores a requirement. Source links are added separately.
func (s *Store) InsertRequirement(_ context.Context, req *types.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs.insert(req)
}

// LinkRequirementToSource records documentID as a source of the requirement. Repeated links are ignored.
func (s *Store) LinkRequirementToSource(_ context.Context, requirementID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs.link(requirementID, documentID)
}

// GetRequirementsForDocuments returns requirements linked to any of the
// documents, in insertion order, each with all of its sources.
func (s *Store) GetRequirementsForDocuments(_ context.Context, documentIDs []string) ([]types.Requirement, error) {
	wanted := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Requirement
	for _, id := range s.reqs.order {
		sources := s.reqs.links[id]
		match := false
		for _, d := range sources {
			if wanted[d] {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		req := s.reqs.byID[id]
		req.SourceDocumentIDs = append([]string(nil), sources...)
		req.Keywords = append([]string(nil), req.Keywords...)
		out = append(out, req)
	}
	return out, nil
}

// ReplaceRequirementsForDocument drops the document's links, deletes
// requirements left without a source and stores reqs. The change is applied to
// a copy and swapped in only when every insert and link succeeded.
func (s *Store) ReplaceRequirementsForDocument(_ context.Context, documentID string, reqs []types.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.reqs.clone()
	next.removeDocument(documentID)
	for i := range reqs {
		req := &reqs[i]
		if err := next.insert(req); err != nil {
			return err
		}
		if err := next.link(req.ID, documentID); err != nil {
			return err
		}
		for _, d := range req.SourceDocumentIDs {
			if err := next.link(req.ID, d); err != nil {
				return err
			}
		}
	}
	s.reqs = next
	return nil
}

// requirementSet holds requirements in insertion order with their source links.
type requirementSet struct {
	byID  map[string]types.Requirement
	order []string
	links map[string][]string // requirement ID -> document IDs
}

func newRequirementSet() requirementSet {
	return requirementSet{
		byID:  make(map[string]types.Requirement),
		links: make(map[string][]string),
	}
}

func (rs requirementSet) clone() requirementSet {
	out := requirementSet{
		byID:  make(map[string]types.Requirement, len(rs.byID)),
		order: append([]string(nil), rs.order...),
		links: make(map[string][]string, len(rs.links)),
	}
	for id, r := range rs.byID {
		out.byID[id] = r
	}
	for id, docs := range rs.links {
		out.links[id] = append([]string(nil), docs...)
	}
	return out
}

func (rs *requirementSet) insert(req *types.Requirement) error {
	if req == nil || req.ID == "" {
		return errors.New("requirement id is required")
	}
	if _, exists := rs.byID[req.ID]; exists {
		return fmt.Errorf("requirement %s already exists", req.ID)
	}
	stored := *req
	stored.SourceDocumentIDs = nil
	stored.Keywords = append([]string(nil), req.Keywords...)
	rs.byID[req.ID] = stored
	rs.order = append(rs.order, req.ID)
	return nil
}

func (rs *requirementSet) link(requirementID, documentID string) error {
	if _, ok := rs.byID[requirementID]; !ok {
		return fmt.Errorf("requirement %s does not exist", requirementID)
	}
	for _, d := range rs.links[requirementID] {
		if d == documentID {
			return nil
		}
	}
	rs.links[requirementID] = append(rs.links[requirementID], documentID)
	return nil
}

// removeDocument unlinks documentID and deletes requirements left without a source.
func (rs *requirementSet) removeDocument(documentID string) {
	kept := rs.order[:0]
	for _, id := range rs.order {
		sources := rs.links[id]
		remaining := sources[:0]
		had := false
		for _, d := range sources {
			if d == documentID {
				had = true
				continue
			}
			remaining = append(remaining, d)
		}
		if had && len(remaining) == 0 {
			delete(rs.byID, id)
			delete(rs.links, id)
			continue
		}
		if had {
			rs.links[id] = remaining
		}
		kept = append(kept, id)
	}
	rs.order = kept
}

// InsertReport stores a report.
func (s *Store) InsertReport(_ context.Context, report *types.AnalysisReport) error {
	if report == nil || report.ID == "" {
		return errors.New("report id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, *report)
	return nil
}

// InsertFindings stores the findings of one analysis.
func (s *Store) InsertFindings(_ context.Context, analysisID string, compliance []types.ComplianceFinding, quality []types.QualityFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complianceFindings[analysisID] = append(s.complianceFindings[analysisID], compliance...)
	s.qualityFindings[analysisID] = append(s.qualityFindings[analysisID], quality...)
	return nil
}

// GetLatestReport returns the plan's report with the latest AnalyzedAt, or nil, nil.
func (s *Store) GetLatestReport(_ context.Context, planID string) (*types.AnalysisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *types.AnalysisReport
	for i := range s.reports {
		r := &s.reports[i]
		if r.PlanID != planID {
			continue
		}
		if latest == nil || !r.AnalyzedAt.Before(latest.AnalyzedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// Findings returns the stored findings of one analysis.
func (s *Store) Findings(analysisID string) ([]types.ComplianceFinding, []types.QualityFinding) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ComplianceFinding(nil), s.complianceFindings[analysisID]...),
		append([]types.QualityFinding(nil), s.qualityFindings[analysisID]...)
}

// ReportCount returns the number of stored reports.
func (s *Store) ReportCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

func fileKey(bucket, path string) string {
	return bucket + "/" + path
}
