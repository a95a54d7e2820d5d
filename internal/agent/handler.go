// Package agent exposes the local editor-facing HTTP API: the editor
// posts edits and lifecycle events here, and the agent handles saving,
// queueing, retrying and conflict resolution against the server of
// record.
package agent

import (
	"log/slog"
	"net/http"
	"strconv"

	"vellum/internal/autosave"
	"vellum/internal/domain"
	"vellum/internal/httputil"
	"vellum/internal/suggest"
	"vellum/internal/version"
)

// Handler wires the editor API onto the per-document engines.
type Handler struct {
	manager   *autosave.Manager
	snapshots *version.Snapshotter
	gateway   domain.ServerGateway
	analyzer  *suggest.Analyzer
	suggester *suggest.Client
	logger    *slog.Logger
}

// NewHandler creates the agent API handler. suggester may be nil when no
// suggestion service is configured; the suggestion route then reports
// the feature unavailable.
func NewHandler(manager *autosave.Manager, snapshots *version.Snapshotter, gateway domain.ServerGateway, analyzer *suggest.Analyzer, suggester *suggest.Client, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		snapshots: snapshots,
		gateway:   gateway,
		analyzer:  analyzer,
		suggester: suggester,
		logger:    logger,
	}
}

// Register mounts the agent routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /documents/{id}/open", h.OpenDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.CloseDocument)
	mux.HandleFunc("POST /documents/{id}/edits", h.NotifyEdit)
	mux.HandleFunc("POST /documents/{id}/save", h.SaveNow)
	mux.HandleFunc("GET /documents/{id}/state", h.State)
	mux.HandleFunc("GET /documents/{id}/stream", h.StreamState)
	mux.HandleFunc("GET /documents/{id}/conflict", h.Conflict)
	mux.HandleFunc("POST /documents/{id}/resolve", h.Resolve)
	mux.HandleFunc("GET /documents/{id}/versions", h.ListVersions)
	mux.HandleFunc("GET /documents/{id}/versions/{number}", h.GetVersion)
	mux.HandleFunc("POST /documents/{id}/restore", h.Restore)
	mux.HandleFunc("GET /documents/{id}/insights", h.Insights)
	mux.HandleFunc("POST /documents/{id}/suggestions", h.Suggest)
	mux.HandleFunc("POST /documents/{id}/fixes", h.ApplyFix)
	mux.HandleFunc("POST /documents/{id}/unload", h.PrepareUnload)
}

// Health reports the agent is alive.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// openResponse pairs the fetched document with the engine's state.
type openResponse struct {
	Document *domain.Document     `json:"document"`
	State    domain.AutosaveState `json:"state"`
}

// OpenDocument starts (or reuses) an engine for the document and
// returns the server's current copy alongside the autosave state.
func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	eng, doc, err := h.manager.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, openResponse{Document: doc, State: eng.State()})
}

// CloseDocument shuts the document's engine down, preserving unsaved
// changes durably.
func (h *Handler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.CloseDocument(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NotifyEdit records the newest editor content and schedules a save.
func (h *Handler) NotifyEdit(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var snap domain.EditSnapshot
	if err := httputil.ParseJSON(w, r, &snap); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	eng.NotifyEdit(snap)
	httputil.RespondJSON(w, http.StatusAccepted, eng.State())
}

// saveResponse reports whether the save was confirmed.
type saveResponse struct {
	Saved bool                 `json:"saved"`
	State domain.AutosaveState `json:"state"`
}

// SaveNow flushes the pending edit immediately (manual Ctrl+S path).
func (h *Handler) SaveNow(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	saved, err := eng.SaveNow(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, saveResponse{Saved: saved, State: eng.State()})
}

// State returns the current autosave state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, eng.State())
}

// StreamState pushes autosave state transitions over SSE. The first
// event is always the current state so the editor renders immediately.
func (h *Handler) StreamState(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	writer, err := newEventWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updates, cancel := eng.Subscribe()
	defer cancel()

	stopKeepAlive := keepAlive(writer, KeepAliveInterval, h.logger)
	defer stopKeepAlive()

	if err := writer.WriteEvent("state", eng.State()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-updates:
			if err := writer.WriteEvent("state", st); err != nil {
				h.logger.Debug("state stream closed", "error", err)
				return
			}
		}
	}
}

// Conflict returns the authoritative server state for the active
// conflict, or 404 when none is pending.
func (h *Handler) Conflict(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	conf := eng.Conflict()
	if conf == nil {
		httputil.RespondError(w, http.StatusNotFound, "no conflict pending")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conf)
}

type resolveRequest struct {
	Strategy domain.ResolutionStrategy `json:"strategy"`
}

// Resolve applies a conflict-resolution strategy.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req resolveRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := eng.Resolve(r.Context(), req.Strategy)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"resolution": res,
		"state":      eng.State(),
	})
}

// ListVersions proxies the version history from the server of record.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	list, err := h.gateway.ListVersions(r.Context(), r.PathValue("id"), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}

// GetVersion proxies one snapshot from the server of record.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "version number must be an integer")
		return
	}

	v, err := h.gateway.GetVersion(r.Context(), r.PathValue("id"), number)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, v)
}

type restoreRequest struct {
	VersionNumber int `json:"version_number"`
}

// Restore replaces the document's content with an older version,
// bracketing the overwrite with safety snapshots. The engine's cursor
// is reset to the restored document's token so autosave continues from
// the new baseline.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	var req restoreRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.VersionNumber < 1 {
		httputil.RespondError(w, http.StatusBadRequest, "version_number must be positive")
		return
	}

	doc, err := h.snapshots.Restore(r.Context(), documentID, req.VersionNumber)
	if err != nil {
		handleError(w, err)
		return
	}

	if eng, err := h.manager.Get(documentID); err == nil {
		eng.ResetTimestamp(doc.UpdatedAt)
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// Insights analyzes the newest local content; before any edit it falls
// back to the server's copy.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	content := ""
	if snap := eng.Latest(); snap != nil {
		content = snap.ContentPlain
	} else {
		doc, err := h.gateway.GetDocument(r.Context(), r.PathValue("id"))
		if err != nil {
			handleError(w, err)
			return
		}
		content = doc.ContentPlain
	}
	httputil.RespondJSON(w, http.StatusOK, h.analyzer.Analyze(content))
}

type suggestionRequest struct {
	Instruction string `json:"instruction,omitempty"`
}

// Suggest asks the configured suggestion service for a fix to the
// document's newest content.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	if h.suggester == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "no suggestion service configured")
		return
	}

	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req suggestionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	content := ""
	if snap := eng.Latest(); snap != nil {
		content = snap.ContentPlain
	} else {
		doc, err := h.gateway.GetDocument(r.Context(), r.PathValue("id"))
		if err != nil {
			handleError(w, err)
			return
		}
		content = doc.ContentPlain
	}

	s, err := h.suggester.Suggest(r.Context(), content, req.Instruction)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, s)
}

type applyFixRequest struct {
	ContentPlain string                 `json:"content_plain"`
	ContentRich  map[string]interface{} `json:"content_rich,omitempty"`
	Title        string                 `json:"title,omitempty"`
}

// ApplyFix accepts fixed content (typically from an accepted
// suggestion), records it as the newest edit and saves immediately.
func (h *Handler) ApplyFix(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req applyFixRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ContentPlain == "" {
		httputil.RespondError(w, http.StatusBadRequest, "content_plain is required")
		return
	}

	snap := domain.EditSnapshot{
		ContentRich:  req.ContentRich,
		ContentPlain: req.ContentPlain,
		Title:        req.Title,
	}
	if latest := eng.Latest(); latest != nil {
		if snap.Title == "" {
			snap.Title = latest.Title
		}
		snap.Metadata = latest.Metadata
	}
	if snap.ContentRich == nil {
		snap.ContentRich = map[string]interface{}{
			"type": "doc",
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": req.ContentPlain},
			},
		}
	}

	eng.NotifyEdit(snap)
	saved, err := eng.SaveNow(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, saveResponse{Saved: saved, State: eng.State()})
}

type unloadResponse struct {
	Warn bool `json:"warn"`
}

// PrepareUnload persists the newest unsaved snapshot synchronously and
// tells the editor whether to warn before navigating away.
func (h *Handler) PrepareUnload(w http.ResponseWriter, r *http.Request) {
	eng, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}

	warn, err := eng.PrepareUnload(r.Context())
	if err != nil {
		h.logger.Warn("unload persistence failed", "document_id", r.PathValue("id"), "error", err)
	}
	httputil.RespondJSON(w, http.StatusOK, unloadResponse{Warn: warn})
}
