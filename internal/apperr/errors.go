// Package apperr classifies orchestrator errors by the behavior they require
// from callers, not by concrete type. Every error surfaced across a
// component boundary should wrap one of these sentinels so the API layer,
// the worker runtime, and the scheduler can all decide how to react without
// inspecting error strings.
package apperr

import "errors"

var (
	// ErrValidation means the input shape or constraints were violated.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the identifier resolves to no row.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means a role or tenant check failed.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means a uniqueness or state precondition was violated.
	ErrConflict = errors.New("conflict")
	// ErrUnauthenticated means the principal could not be established.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTransient means the failure is expected to clear on retry
	// (broker unavailable, device timeout, remote network error).
	ErrTransient = errors.New("transient failure")
	// ErrFatal means an invariant was violated (illegal transition, data
	// corruption); this should page operators.
	ErrFatal = errors.New("fatal invariant violation")
)

// Is reports whether err (or anything it wraps) is classified as kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
