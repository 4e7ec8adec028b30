package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrReportNotFound is returned when a plan has no stored report.
var ErrReportNotFound = errors.New("no analysis report found")

// ErrDocumentNotFound is returned when a plan or reference document does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// StoreError is a failed read or write against a persistence dependency. It
// ends the run.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Cause: err}
}

// ValidationError is a rejected request. No stage runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// InputError means the request was valid but there is nothing to analyze.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// validationError converts validator output into a ValidationError naming the first failing field.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: toSnake(fe.Field()), Message: "failed the " + fe.Tag() + " check"}
	}
	return &ValidationError{Message: err.Error()}
}

func toSnake(name string) string {
	// strip slice index, e.g. ReferenceDocumentIDs[0]
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			prevLower := i > 0 && name[i-1] >= 'a' && name[i-1] <= 'z'
			if prevLower {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + ('a' - 'A'))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
