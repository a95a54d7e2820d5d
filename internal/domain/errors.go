package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling.
type HTTPError interface {
	error
	StatusCode() int
}

// Error taxonomy for the save pipeline:
//
//   - TransientError: retried automatically up to the ceiling
//   - ConflictError: never retried automatically, requires a resolution action
//   - ValidationError: terminal for the attempt, surfaced, not retried
//   - ErrOffline: not an error condition; the write queues and waits
type (
	// TransientError indicates a network or server failure that is
	// expected to heal on its own (timeouts, 5xx, dropped connections).
	TransientError struct {
		Message string
	}

	// ValidationError indicates the server rejected the payload.
	ValidationError struct {
		Message string
	}

	// NotFoundError indicates a resource was not found.
	NotFoundError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure.
	UnauthorizedError struct {
		Message string
	}
)

func (e *TransientError) Error() string    { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *NotFoundError) Error() string     { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }

func (e *TransientError) StatusCode() int    { return http.StatusBadGateway }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

// Sentinel errors - use with errors.Is()
var (
	ErrTransient  = errors.New("transient failure")
	ErrConflict   = errors.New("concurrency conflict")
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrOffline    = errors.New("offline")
)

func (e *TransientError) Is(target error) bool  { return target == ErrTransient }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }

// ConflictError reports that the server's updated_at no longer matches the
// client's expected cursor. ServerState carries the authoritative content
// so a resolution action can be taken without another round trip.
type ConflictError struct {
	Message     string
	ServerState *ConflictState
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
