// Package repositories defines the persistence interfaces the server of
// record is built against.
package repositories

import (
	"context"

	"vellum/internal/domain"
)

// DocumentRepository persists manuscripts. ConditionalUpdate is the
// optimistic-concurrency write: it succeeds only while the stored
// updated_at still equals expectedUpdatedAt and returns a
// *domain.ConflictError carrying the current row otherwise. Overwrite
// skips the check and is reserved for explicit conflict resolution.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ConditionalUpdate(ctx context.Context, id string, update *domain.DocumentUpdate, expectedUpdatedAt string) (*domain.Document, error)
	Overwrite(ctx context.Context, id string, update *domain.DocumentUpdate) (*domain.Document, error)
}
