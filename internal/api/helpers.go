// Package api is the orchestrator's HTTP surface: a thin, stdlib
// net/http layer that resolves a request's tenant context and calls
// straight through to the Job Service, Region Router, and Log Stream
// Bus. Authentication token validation and CSRF live upstream of this
// process; this package treats the principal as already authenticated
// and reads it from a header.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/store"
	"github.com/ternarybob/netctl/internal/tenant"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err to a status code by its error kind and writes a
// standard {"error": "..."} body.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrScheduleNotFound),
		errors.Is(err, store.ErrRegionNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrCredentialNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrTransient):
		status = http.StatusServiceUnavailable
	case errors.Is(err, tenant.ErrAmbiguousTenant), errors.Is(err, tenant.ErrNoTenant):
		status = http.StatusBadRequest
	}
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}
