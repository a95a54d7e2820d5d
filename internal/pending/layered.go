package pending

import (
	"context"
	"log/slog"

	"vellum/internal/domain"
)

// Layered composes the primary store with the synchronous fallback.
//
// Writes in the normal save path go to the primary; the fallback is only
// written through PutFallback on the unload path. Reads consult both and
// the record with the most recent EnqueuedAt wins, so an unload-time
// snapshot taken after the last primary write is the one replayed on the
// next start. Deletes clear both layers.
type Layered struct {
	primary  domain.DurableStore
	fallback domain.DurableStore
	logger   *slog.Logger
}

// NewLayered builds the composed store.
func NewLayered(primary, fallback domain.DurableStore, logger *slog.Logger) *Layered {
	return &Layered{primary: primary, fallback: fallback, logger: logger}
}

// Put stores the record in the primary layer.
func (l *Layered) Put(ctx context.Context, save *domain.PendingSave) error {
	return l.primary.Put(ctx, save)
}

// PutFallback stores the record in the synchronous fallback layer. Used
// on unload, when the primary's write may not complete in time.
func (l *Layered) PutFallback(ctx context.Context, save *domain.PendingSave) error {
	return l.fallback.Put(ctx, save)
}

// Get returns the most recent record across both layers, or (nil, nil).
func (l *Layered) Get(ctx context.Context, documentID string) (*domain.PendingSave, error) {
	primary, err := l.primary.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	fallback, err := l.fallback.Get(ctx, documentID)
	if err != nil {
		// The fallback layer is best effort on read too: a broken
		// fallback must not hide a healthy primary record.
		l.logger.Warn("fallback store read failed",
			"document_id", documentID,
			"error", err,
		)
		return primary, nil
	}

	switch {
	case primary == nil:
		return fallback, nil
	case fallback == nil:
		return primary, nil
	case fallback.EnqueuedAt.After(primary.EnqueuedAt):
		return fallback, nil
	default:
		return primary, nil
	}
}

// Delete clears the record from both layers.
func (l *Layered) Delete(ctx context.Context, documentID string) error {
	if err := l.primary.Delete(ctx, documentID); err != nil {
		return err
	}
	return l.fallback.Delete(ctx, documentID)
}
