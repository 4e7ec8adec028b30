package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"go.uber.org/zap"
)

// documentsRequest is the body of the analyze and reconcile endpoints.
type documentsRequest struct {
	ReferenceDocumentIDs []string `json:"reference_document_ids"`
}

// decodeDocuments reads the request body. An empty body yields an empty list,
// which the service rejects with a field-level validation error.
func decodeDocuments(r *http.Request) (documentsRequest, error) {
	var req documentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcessReference(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ProcessReferenceDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDocuments(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	report, err := s.service.AnalyzePlan(r.Context(), r.PathValue("id"), req.ReferenceDocumentIDs)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// handleAnalyzeStream runs an analysis and streams each state transition as
// an SSE "step" event, ending with "complete" or "error".
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDocuments(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	report, err := s.service.AnalyzePlanWithProgress(r.Context(), r.PathValue("id"), req.ReferenceDocumentIDs,
		func(event analysis.ProgressEvent) {
			if werr := sse.WriteProgress(event); werr != nil {
				s.logger.Debug("failed to write progress event", zap.Error(werr))
			}
		})
	if err != nil {
		sse.WriteError(HTTPStatus(err), ErrorMessage(err))
		return
	}
	sse.WriteComplete(report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetLatestReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) handleThinkingProcess(w http.ResponseWriter, r *http.Request) {
	process, err := s.service.GetThinkingProcess(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, process)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDocuments(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := s.service.ReconcileRequirements(r.Context(), req.ReferenceDocumentIDs)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}
