package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMapping    = errors.New("mapping error")
	ErrSubmission = errors.New("submission failure")
	ErrLookup     = errors.New("lookup failure")
	ErrPostback   = errors.New("postback failure")
	// ErrStructural aborts a run: required fields entirely unmapped, no
	// load-id column, or an unreachable API base URL.
	ErrStructural = errors.New("structural failure")
	ErrConfig     = errors.New("invalid configuration")
	ErrUpload     = errors.New("invalid upload")
	ErrNotFound   = errors.New("not found")
)

// MappingError reports mapping entries that reference source columns
// absent from the upload.
type MappingError struct {
	MissingColumns []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping references missing source columns: %s", strings.Join(e.MissingColumns, ", "))
}

func (e *MappingError) Unwrap() error {
	return ErrMapping
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrMapping):
		return "mapping"

	case errors.Is(err, ErrStructural):
		return "structural"

	case errors.Is(err, ErrSubmission):
		return "submission"

	case errors.Is(err, ErrLookup):
		return "lookup"

	case errors.Is(err, ErrPostback):
		return "postback"

	case errors.Is(err, ErrConfig):
		return "config"

	case errors.Is(err, ErrUpload):
		return "upload"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrMapping),
		errors.Is(err, ErrUpload),
		errors.Is(err, ErrConfig):
		return http.StatusBadRequest

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrStructural):
		return http.StatusUnprocessableEntity

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
