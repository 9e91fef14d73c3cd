package bookstack

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/starford/tubestack/internal/apperr"
)

// APIError is a non-2xx response from the wiki.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bookstack: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is maps 404 onto apperr.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == apperr.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Transient reports whether the request may succeed if repeated.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// isClientError reports whether err is a wiki-side rejection that says
// nothing about the wiki's health.
func isClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}
