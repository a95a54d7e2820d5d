// Package service holds the server of record's business logic.
package service

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"vellum/internal/config"
	"vellum/internal/domain"
	"vellum/internal/domain/repositories"
)

// DocumentService guards the manuscript store: it validates payloads,
// verifies content integrity and routes writes through the
// optimistic-concurrency check.
type DocumentService struct {
	docRepo repositories.DocumentRepository
	logger  *slog.Logger
}

// NewDocumentService creates a new document service.
func NewDocumentService(docRepo repositories.DocumentRepository, logger *slog.Logger) *DocumentService {
	return &DocumentService{docRepo: docRepo, logger: logger}
}

// CreateDocumentRequest is the payload for creating a document.
type CreateDocumentRequest struct {
	Title        string                 `json:"title"`
	ContentRich  map[string]interface{} `json:"content_rich"`
	ContentPlain string                 `json:"content_plain"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SaveDocumentRequest is the payload for the conditional save. The
// expected_updated_at cursor must equal the stored token for the write
// to land.
type SaveDocumentRequest struct {
	Title             *string                `json:"title,omitempty"`
	ContentRich       map[string]interface{} `json:"content_rich"`
	ContentPlain      string                 `json:"content_plain"`
	ContentHash       string                 `json:"content_hash"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ExpectedUpdatedAt string                 `json:"expected_updated_at"`
}

// OverwriteDocumentRequest is the unconditional write used by conflict
// resolution.
type OverwriteDocumentRequest struct {
	Title        *string                `json:"title,omitempty"`
	ContentRich  map[string]interface{} `json:"content_rich"`
	ContentPlain string                 `json:"content_plain"`
	ContentHash  string                 `json:"content_hash"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// CreateDocument creates a new manuscript.
func (s *DocumentService) CreateDocument(ctx context.Context, req *CreateDocumentRequest) (*domain.Document, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Title,
			validation.Required,
			validation.Length(1, config.MaxTitleLength),
		),
	); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	doc := &domain.Document{
		Title:        req.Title,
		ContentRich:  req.ContentRich,
		ContentPlain: req.ContentPlain,
		ContentHash:  domain.ContentHash(req.ContentPlain),
		Metadata:     req.Metadata,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("document created", "document_id", doc.ID, "title", doc.Title)
	return doc, nil
}

// GetDocument retrieves a document.
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	if id == "" {
		return nil, &domain.ValidationError{Message: "document ID is required"}
	}
	return s.docRepo.GetByID(ctx, id)
}

// SaveDocument performs the conditional update. Returns a
// *domain.ConflictError with the authoritative state when the cursor is
// stale.
func (s *DocumentService) SaveDocument(ctx context.Context, id string, req *SaveDocumentRequest) (*domain.Document, error) {
	if id == "" {
		return nil, &domain.ValidationError{Message: "document ID is required"}
	}
	if err := s.validatePayload(req.Title, req.ContentPlain, req.ContentHash); err != nil {
		return nil, err
	}
	if req.ExpectedUpdatedAt == "" {
		return nil, &domain.ValidationError{Message: "expected_updated_at is required"}
	}

	update := &domain.DocumentUpdate{
		Title:        req.Title,
		ContentRich:  req.ContentRich,
		ContentPlain: req.ContentPlain,
		ContentHash:  req.ContentHash,
		Metadata:     req.Metadata,
	}
	return s.docRepo.ConditionalUpdate(ctx, id, update, req.ExpectedUpdatedAt)
}

// OverwriteDocument writes without the concurrency check.
func (s *DocumentService) OverwriteDocument(ctx context.Context, id string, req *OverwriteDocumentRequest) (*domain.Document, error) {
	if id == "" {
		return nil, &domain.ValidationError{Message: "document ID is required"}
	}
	if err := s.validatePayload(req.Title, req.ContentPlain, req.ContentHash); err != nil {
		return nil, err
	}

	update := &domain.DocumentUpdate{
		Title:        req.Title,
		ContentRich:  req.ContentRich,
		ContentPlain: req.ContentPlain,
		ContentHash:  req.ContentHash,
		Metadata:     req.Metadata,
	}
	s.logger.Info("unconditional overwrite", "document_id", id)
	return s.docRepo.Overwrite(ctx, id, update)
}

// validatePayload checks field shapes and verifies the client-computed
// content hash actually matches the content, so corruption in transit
// cannot land as a confirmed save.
func (s *DocumentService) validatePayload(title *string, contentPlain, contentHash string) error {
	if title != nil {
		if err := validation.Validate(*title,
			validation.Required,
			validation.Length(1, config.MaxTitleLength),
		); err != nil {
			return &domain.ValidationError{Message: fmt.Sprintf("title: %v", err)}
		}
	}
	if contentHash == "" {
		return &domain.ValidationError{Message: "content_hash is required"}
	}
	if contentHash != domain.ContentHash(contentPlain) {
		return &domain.ValidationError{Message: "content_hash does not match content_plain"}
	}
	return nil
}
