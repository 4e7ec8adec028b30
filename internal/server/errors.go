package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/llm"
)

// HTTPStatus maps a service error to a response status.
func HTTPStatus(err error) int {
	var validationErr *analysis.ValidationError
	var inputErr *analysis.InputError
	var storeErr *analysis.StoreError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrReportNotFound), errors.Is(err, analysis.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.As(err, &inputErr), errors.Is(err, llm.ErrContentFiltered):
		return http.StatusUnprocessableEntity
	case llm.IsQuota(err):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrMalformedOutput):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrModelUnavailable), errors.As(err, &storeErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the client-facing text for err. Store and unexpected
// failures are not echoed back.
func ErrorMessage(err error) string {
	var validationErr *analysis.ValidationError
	var inputErr *analysis.InputError
	var storeErr *analysis.StoreError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &inputErr):
		return err.Error()
	case errors.Is(err, analysis.ErrReportNotFound), errors.Is(err, analysis.ErrDocumentNotFound):
		return err.Error()
	case llm.IsGatewayError(err):
		return llm.UserMessage(err)
	case errors.As(err, &storeErr):
		return "storage unavailable, retry later"
	default:
		return "internal error"
	}
}
