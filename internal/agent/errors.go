package agent

import (
	"errors"
	"net/http"

	"vellum/internal/domain"
	"vellum/internal/httputil"
)

// handleError maps domain errors onto the agent's HTTP responses.
// Transient upstream failures surface as 502 so the editor can tell
// "agent broken" apart from "server unreachable".
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
	case errors.Is(err, domain.ErrTransient):
		httputil.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
