package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Gateway failure kinds. Callers match them with errors.Is.
var (
	// ErrModelUnavailable covers network failures, provider outages and quota exhaustion
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrContentFiltered is returned when the provider blocks the prompt or response
	ErrContentFiltered = errors.New("content filtered")
	// ErrTimeout is returned when a call exceeds its deadline
	ErrTimeout = errors.New("model call timed out")
	// ErrMalformedOutput is returned when a response holds no usable JSON
	ErrMalformedOutput = errors.New("malformed model output")
)

// GatewayError is a classified failure of a model call.
type GatewayError struct {
	Kind    error
	Message string
	// Quota is set when the provider rejected the call for rate or quota reasons
	Quota bool
	Cause error
}

func (e *GatewayError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the provider error.
func (e *GatewayError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Classify maps a provider error onto a GatewayError. Cancellation by the
// caller is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &GatewayError{Kind: ErrContentFiltered, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: ErrTimeout, Cause: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &GatewayError{Kind: ErrModelUnavailable, Quota: true, Cause: err}
		case apiErr.Code == http.StatusGatewayTimeout:
			return &GatewayError{Kind: ErrTimeout, Cause: err}
		}
		return &GatewayError{Kind: ErrModelUnavailable, Message: fmt.Sprintf("status %d", apiErr.Code), Cause: err}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return &GatewayError{Kind: ErrModelUnavailable, Quota: true, Cause: err}
		case codes.DeadlineExceeded:
			return &GatewayError{Kind: ErrTimeout, Cause: err}
		case codes.Canceled:
			return context.Canceled
		}
	}

	return &GatewayError{Kind: ErrModelUnavailable, Cause: err}
}

// Malformed wraps a response parse failure as a GatewayError of kind ErrMalformedOutput.
func Malformed(err error) *GatewayError {
	msg := "no usable items"
	if err != nil {
		msg = strings.TrimPrefix(err.Error(), ErrMalformedOutput.Error()+": ")
	}
	return &GatewayError{Kind: ErrMalformedOutput, Message: msg}
}

// IsQuota reports whether err is a quota or rate-limit rejection.
func IsQuota(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Quota
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrTimeout)
}

// IsGatewayError reports whether err came from a model call.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}

// UserMessage returns a short explanation suitable for API clients.
func UserMessage(err error) string {
	switch {
	case IsQuota(err):
		return "the language model quota was exceeded, retry later"
	case errors.Is(err, ErrContentFiltered):
		return "the language model refused to process this content"
	case errors.Is(err, ErrTimeout):
		return "the language model did not respond in time, retry later"
	case errors.Is(err, ErrModelUnavailable):
		return "the language model is unavailable, retry later"
	case errors.Is(err, ErrMalformedOutput):
		return "the language model returned no usable output, retry later"
	default:
		return "analysis failed"
	}
}
