package handler

import (
	"log/slog"
	"net/http"
	"time"

	"vellum/internal/httputil"
	"vellum/internal/service"
)

// DocumentHandler handles document HTTP requests.
type DocumentHandler struct {
	docService *service.DocumentService
	logger     *slog.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(docService *service.DocumentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{docService: docService, logger: logger}
}

// HealthCheck responds to connectivity probes.
// GET /health
func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateDocument creates a new manuscript.
// POST /api/v1/documents
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docService.CreateDocument(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, doc)
}

// GetDocument returns a manuscript.
// GET /api/v1/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docService.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// SaveDocument performs the conditional save. A stale cursor yields 409
// with the server's current state attached.
// PATCH /api/v1/documents/{id}
func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	var req service.SaveDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docService.SaveDocument(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// OverwriteDocument writes without the concurrency check. Used by
// explicit conflict resolution only.
// PUT /api/v1/documents/{id}
func (h *DocumentHandler) OverwriteDocument(w http.ResponseWriter, r *http.Request) {
	var req service.OverwriteDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docService.OverwriteDocument(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}
