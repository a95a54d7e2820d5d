// Package conflict reconciles divergence between the client's assumed
// server state and the actual server state at write time.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"vellum/internal/domain"
)

// MergeSeparator marks server content appended below diverged local
// content. Manual cleanup is expected afterward; the point is that
// neither side is silently dropped.
const MergeSeparator = "\n\n--- MERGED FROM SERVER ---\n\n"

// Resolution is the reconciled state after a strategy has been applied.
// UpdatedAt is the new optimistic-concurrency baseline and Content* is
// what the editor should now display.
type Resolution struct {
	ContentRich  map[string]interface{}
	ContentPlain string
	Title        string
	UpdatedAt    string
}

// Resolver applies overwrite/reload/merge strategies against the server
// of record and clears the pending record afterward.
type Resolver struct {
	gateway domain.ServerGateway
	store   domain.DurableStore
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(gateway domain.ServerGateway, store domain.DurableStore, logger *slog.Logger) *Resolver {
	return &Resolver{gateway: gateway, store: store, logger: logger}
}

// IsBenign reports whether a detected conflict carries no content
// divergence: the hashes match, only the timestamps drifted (for example
// a confirmed write whose response was lost). Deliberate optimization:
// such conflicts are adopted silently instead of surfacing a dialog.
func IsBenign(local *domain.EditSnapshot, server *domain.ConflictState) bool {
	return server != nil && server.ContentHash == domain.ContentHash(local.ContentPlain)
}

// Resolve applies the chosen strategy. After any resolution the pending
// record for the document is cleared and the returned UpdatedAt must
// become the engine's new expectedUpdatedAt cursor.
func (r *Resolver) Resolve(
	ctx context.Context,
	documentID string,
	strategy domain.ResolutionStrategy,
	local *domain.EditSnapshot,
	server *domain.ConflictState,
) (*Resolution, error) {
	if server == nil {
		return nil, &domain.ValidationError{Message: "no server state attached to conflict"}
	}

	// Benign guard: identical content resolved silently by adopting the
	// server's timestamp, regardless of the requested strategy.
	if IsBenign(local, server) {
		r.logger.Debug("conflict is benign, adopting server timestamp",
			"document_id", documentID,
			"updated_at", server.UpdatedAt,
		)
		return r.finish(ctx, documentID, &Resolution{
			ContentRich:  local.ContentRich,
			ContentPlain: local.ContentPlain,
			Title:        local.Title,
			UpdatedAt:    server.UpdatedAt,
		})
	}

	switch strategy {
	case domain.ResolveOverwrite:
		return r.overwrite(ctx, documentID, local)
	case domain.ResolveReload:
		return r.reload(ctx, documentID, server)
	case domain.ResolveMerge:
		return r.merge(ctx, documentID, local, server)
	default:
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown resolution strategy %q", strategy)}
	}
}

// overwrite force-writes local content, bypassing the concurrency check.
func (r *Resolver) overwrite(ctx context.Context, documentID string, local *domain.EditSnapshot) (*Resolution, error) {
	doc, err := r.gateway.OverwriteDocument(ctx, documentID, updateFrom(local))
	if err != nil {
		return nil, fmt.Errorf("overwrite resolution: %w", err)
	}
	r.logger.Info("conflict resolved by overwrite", "document_id", documentID)
	return r.finish(ctx, documentID, &Resolution{
		ContentRich:  local.ContentRich,
		ContentPlain: local.ContentPlain,
		Title:        local.Title,
		UpdatedAt:    doc.UpdatedAt,
	})
}

// reload discards local content and adopts the server state as the new
// baseline. No write is issued.
func (r *Resolver) reload(ctx context.Context, documentID string, server *domain.ConflictState) (*Resolution, error) {
	r.logger.Info("conflict resolved by reload", "document_id", documentID)
	return r.finish(ctx, documentID, &Resolution{
		ContentRich:  server.ContentRich,
		ContentPlain: server.ContentPlain,
		Title:        server.Title,
		UpdatedAt:    server.UpdatedAt,
	})
}

// merge reconciles heuristically: a superset wins outright; true
// divergence keeps both sides separated by MergeSeparator. Lossless but
// not clean - the separator is the signal that manual cleanup is needed.
func (r *Resolver) merge(ctx context.Context, documentID string, local *domain.EditSnapshot, server *domain.ConflictState) (*Resolution, error) {
	merged := MergeContent(local.ContentPlain, server.ContentPlain)

	if merged == server.ContentPlain {
		// Server already contains everything local has.
		return r.reload(ctx, documentID, server)
	}

	update := &domain.DocumentUpdate{
		ContentRich:  richFromPlain(merged),
		ContentPlain: merged,
		ContentHash:  domain.ContentHash(merged),
	}
	if local.Title != "" {
		title := local.Title
		update.Title = &title
	}

	// The merged result is written conditionally against the server state
	// we just fetched; if yet another writer got in between, the caller
	// sees a fresh conflict rather than a silent overwrite.
	doc, err := r.gateway.UpdateDocument(ctx, documentID, update, server.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("merge resolution: %w", err)
	}
	r.logger.Info("conflict resolved by merge",
		"document_id", documentID,
		"diverged", merged != local.ContentPlain,
	)
	return r.finish(ctx, documentID, &Resolution{
		ContentRich:  update.ContentRich,
		ContentPlain: merged,
		Title:        local.Title,
		UpdatedAt:    doc.UpdatedAt,
	})
}

// MergeContent applies the superset heuristic to two plain-text bodies.
func MergeContent(local, server string) string {
	switch {
	case strings.Contains(server, local):
		return server
	case strings.Contains(local, server):
		return local
	default:
		return local + MergeSeparator + server
	}
}

func (r *Resolver) finish(ctx context.Context, documentID string, res *Resolution) (*Resolution, error) {
	if err := r.store.Delete(ctx, documentID); err != nil {
		// The resolution itself succeeded; a stale pending record is
		// superseded on the next save anyway.
		r.logger.Warn("failed to clear pending record after resolution",
			"document_id", documentID,
			"error", err,
		)
	}
	return res, nil
}

func updateFrom(local *domain.EditSnapshot) *domain.DocumentUpdate {
	update := &domain.DocumentUpdate{
		ContentRich:  local.ContentRich,
		ContentPlain: local.ContentPlain,
		ContentHash:  domain.ContentHash(local.ContentPlain),
		Metadata:     local.Metadata,
	}
	if local.Title != "" {
		title := local.Title
		update.Title = &title
	}
	return update
}

// richFromPlain wraps merged plain text in a minimal rich-text document.
// A heuristic text merge cannot reconcile two rich trees, so the merged
// result degrades to a single text node the editor can re-enrich.
func richFromPlain(plain string) map[string]interface{} {
	return map[string]interface{}{
		"type": "doc",
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": plain},
		},
	}
}
