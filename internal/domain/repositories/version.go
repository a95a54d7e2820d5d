package repositories

import (
	"context"

	"vellum/internal/domain"
)

// VersionRepository persists immutable document snapshots. Numbers are
// assigned server-side, strictly increasing per document, and never
// reused. List pages newest first; cursor is the last seen version
// number, empty for the first page.
type VersionRepository interface {
	Create(ctx context.Context, documentID string, snapshot *domain.VersionSnapshot) (*domain.Version, error)
	GetByNumber(ctx context.Context, documentID string, versionNumber int) (*domain.Version, error)
	List(ctx context.Context, documentID string, limit int, cursor string) (*domain.VersionList, error)
}
