package service

import (
	"context"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"vellum/internal/config"
	"vellum/internal/domain"
	"vellum/internal/domain/repositories"
)

// VersionService manages the immutable snapshot history of a document.
type VersionService struct {
	versionRepo repositories.VersionRepository
	docRepo     repositories.DocumentRepository
	logger      *slog.Logger
}

// NewVersionService creates a new version service.
func NewVersionService(versionRepo repositories.VersionRepository, docRepo repositories.DocumentRepository, logger *slog.Logger) *VersionService {
	return &VersionService{versionRepo: versionRepo, docRepo: docRepo, logger: logger}
}

// CreateVersion snapshots the given content under the next version
// number for the document.
func (s *VersionService) CreateVersion(ctx context.Context, documentID string, snapshot *domain.VersionSnapshot) (*domain.Version, error) {
	if documentID == "" {
		return nil, &domain.ValidationError{Message: "document ID is required"}
	}
	if err := validation.ValidateStruct(snapshot,
		validation.Field(&snapshot.Title, validation.Length(0, config.MaxTitleLength)),
	); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	// The document must exist; versions of deleted or unknown documents
	// would be orphans.
	if _, err := s.docRepo.GetByID(ctx, documentID); err != nil {
		return nil, err
	}

	v, err := s.versionRepo.Create(ctx, documentID, snapshot)
	if err != nil {
		return nil, err
	}
	s.logger.Info("version created", "document_id", documentID, "version_number", v.VersionNumber)
	return v, nil
}

// GetVersion retrieves one snapshot.
func (s *VersionService) GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.Version, error) {
	if documentID == "" {
		return nil, &domain.ValidationError{Message: "document ID is required"}
	}
	if versionNumber < 1 {
		return nil, &domain.ValidationError{Message: "version number must be positive"}
	}
	return s.versionRepo.GetByNumber(ctx, documentID, versionNumber)
}

// ListVersions pages the history newest first. Out-of-range limits are
// clamped rather than rejected.
func (s *VersionService) ListVersions(ctx context.Context, documentID string, limit int, cursor string) (*domain.VersionList, error) {
	if documentID == "" {
		return nil, &domain.ValidationError{Message: "document ID is required"}
	}
	if limit <= 0 {
		limit = config.DefaultVersionPageSize
	}
	if limit > config.MaxVersionPageSize {
		limit = config.MaxVersionPageSize
	}
	return s.versionRepo.List(ctx, documentID, limit, cursor)
}
