// Package handler exposes the server of record's HTTP API.
package handler

import (
	"errors"
	"net/http"

	"vellum/internal/domain"
	"vellum/internal/httputil"
)

// handleError converts domain errors to HTTP responses. Conflicts carry
// the authoritative server state so the client can resolve without a
// second round trip.
func handleError(w http.ResponseWriter, err error) {
	var conflictErr *domain.ConflictError

	switch {
	case errors.As(err, &conflictErr):
		extras := map[string]interface{}{}
		if conflictErr.ServerState != nil {
			extras["server_state"] = conflictErr.ServerState
		}
		httputil.RespondErrorWithExtras(w, http.StatusConflict, conflictErr.Error(), extras)
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
