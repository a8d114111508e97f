// Package remote provides an HTTP client for the fitsync backend's REST
// interface (PostgREST-flavored) with error classification suitable for
// the sync engine's retry taxonomy.
package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for status-code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")

	// ErrNetwork wraps transport-level failures (DNS, refused connection,
	// reset). The pull pipeline treats an exhausted ErrNetwork as a total
	// outage and aborts the cycle instead of degrading table-by-table.
	ErrNetwork = errors.New("remote: network failure")
)

// APIError carries the structured error body the backend returns: an error
// code (Postgres SQLSTATE or PostgREST code) and a human-readable message.
// The schema classifier parses Message to recover the offending column name
// on schema mismatch.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// IsTransient reports whether an error is worth retrying: a 5xx family
// response, throttling, a request timeout, or a transport failure.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrServerError) || errors.Is(err, ErrThrottled) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusRequestTimeout
	}

	return false
}

// Postgres SQLSTATE for "undefined column".
const codeUndefinedColumn = "42703"

// PostgREST code for "column not found in schema cache".
const codeSchemaCacheMiss = "PGRST204"

// SchemaClassifier extracts the missing column name from a schema-mismatch
// error. The message-parsing detail is deliberately confined here: the
// engine depends only on the MissingColumn contract, so a backend with
// saner structured errors can swap in its own classifier.
type SchemaClassifier struct{}

// MissingColumn returns the column the backend reported as absent, or ""
// when the error is not a schema mismatch. Handles both the Postgres form
//
//	column "fiber_target" of relation "foods" does not exist
//
// and the PostgREST schema-cache form
//
//	Could not find the 'fiber_target' column of 'foods' in the schema cache
func (SchemaClassifier) MissingColumn(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ""
	}

	switch apiErr.Code {
	case codeUndefinedColumn:
		return quoted(apiErr.Message, `"`)
	case codeSchemaCacheMiss:
		return quoted(apiErr.Message, `'`)
	default:
		return ""
	}
}

// quoted returns the first substring of s delimited by the given quote
// character, or "" when none exists.
func quoted(s, quote string) string {
	start := strings.Index(s, quote)
	if start < 0 {
		return ""
	}

	rest := s[start+len(quote):]

	end := strings.Index(rest, quote)
	if end < 0 {
		return ""
	}

	return rest[:end]
}
