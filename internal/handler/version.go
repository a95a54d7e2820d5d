package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"vellum/internal/domain"
	"vellum/internal/httputil"
	"vellum/internal/service"
)

// VersionHandler handles version history HTTP requests.
type VersionHandler struct {
	versionService *service.VersionService
	logger         *slog.Logger
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(versionService *service.VersionService, logger *slog.Logger) *VersionHandler {
	return &VersionHandler{versionService: versionService, logger: logger}
}

// CreateVersion snapshots content under the next version number.
// POST /api/v1/documents/{id}/versions
func (h *VersionHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var snapshot domain.VersionSnapshot
	if err := httputil.ParseJSON(w, r, &snapshot); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.versionService.CreateVersion(r.Context(), r.PathValue("id"), &snapshot)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, v)
}

// GetVersion returns one snapshot.
// GET /api/v1/documents/{id}/versions/{number}
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "version number must be an integer")
		return
	}

	v, err := h.versionService.GetVersion(r.Context(), r.PathValue("id"), number)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, v)
}

// ListVersions pages the history newest first.
// GET /api/v1/documents/{id}/versions?limit=N&cursor=C
func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	list, err := h.versionService.ListVersions(r.Context(), r.PathValue("id"), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}
