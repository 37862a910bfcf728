// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
)

// ProblemFielder is implemented by errors that carry extra RFC7807 members.
type ProblemFielder interface {
	ProblemFields() map[string]any
}

// upstreamError marks a failure of a backing service (database, redis, queue).
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUpstream.Error(), e.err)
}

func (e *upstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.err}
}

// Upstream wraps err so errors.Is(err, ErrUpstream) holds while the original
// cause stays inspectable. Nil stays nil and already-wrapped errors are returned as is.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &upstreamError{err: err}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fields map[string]any
	var fielder ProblemFielder
	if errors.As(err, &fielder) {
		fields = fielder.ProblemFields()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemWith(w, http.StatusNotFound, "Not Found", "not_found", err.Error(), fields)
	case errors.Is(err, ErrDuplicate):
		ProblemWith(w, http.StatusConflict, "Duplicate", "duplicate", err.Error(), fields)
	case errors.Is(err, ErrValidation):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", "validation", err.Error(), fields)
	case errors.Is(err, ErrForbidden):
		ProblemWith(w, http.StatusForbidden, "Forbidden", "forbidden", err.Error(), fields)
	case errors.Is(err, ErrUnauthorized):
		ProblemWith(w, http.StatusUnauthorized, "Unauthorized", "unauthorized", err.Error(), fields)
	case errors.Is(err, ErrUpstream):
		// the cause may leak connection details
		ProblemWith(w, http.StatusBadGateway, "Upstream Failure", "upstream_failure", "", fields)
	default:
		ProblemWith(w, http.StatusInternalServerError, "Internal Error", "internal", "", fields)
	}
}
