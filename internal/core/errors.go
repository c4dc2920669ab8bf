package core

import (
	"context"
	"errors"
	"net/http"
)

// Error markers. Wrap them with fmt.Errorf("%w: ...") so callers can
// classify failures with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrEmptySource   = errors.New("no data rows found")
	ErrNotFound      = errors.New("not found")
	ErrNoSlug        = errors.New("record has no slug")
	ErrUnrecoverable = errors.New("unrecoverable store error")
)

// StatusCode maps an error to the HTTP status the web layer should return.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmptySource), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTemplateExists):
		return http.StatusConflict
	case errors.Is(err, ErrTemplatesUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
