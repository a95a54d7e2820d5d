package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"vellum/internal/domain"
	"vellum/internal/domain/repositories"
)

// PostgresDocumentRepository implements repositories.DocumentRepository.
//
// The updated_at column is the optimistic-concurrency token. It is
// stored as timestamptz but exposed to clients as an opaque
// RFC3339Nano string; the conditional update compares it in the WHERE
// clause so check and write are one atomic statement.
type PostgresDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(config *RepositoryConfig) repositories.DocumentRepository {
	return &PostgresDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const documentColumns = `id, title, content_rich, content_plain, content_hash, metadata, word_count, last_saved_at, created_at, updated_at`

// Create inserts a new document. The ID is generated here rather than by
// the database so callers can reference it even if the insert is retried.
func (r *PostgresDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	doc.ID = uuid.New().String()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, content_rich, content_plain, content_hash, metadata, word_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, r.tables.Documents)

	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, query,
		doc.ID,
		doc.Title,
		doc.ContentRich,
		doc.ContentPlain,
		doc.ContentHash,
		doc.Metadata,
		domain.CountWords(doc.ContentPlain),
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	doc.CreatedAt = createdAt
	doc.UpdatedAt = formatToken(updatedAt)
	doc.WordCount = domain.CountWords(doc.ContentPlain)
	return nil
}

// GetByID retrieves a document by ID.
func (r *PostgresDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, documentColumns, r.tables.Documents)

	doc, err := r.scanDocument(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("document %s not found", id)}
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ConditionalUpdate writes only while the stored updated_at still equals
// expectedUpdatedAt. Zero rows means either the document is gone or the
// token is stale; the follow-up read distinguishes the two and supplies
// the authoritative state for the conflict.
func (r *PostgresDocumentRepository) ConditionalUpdate(ctx context.Context, id string, update *domain.DocumentUpdate, expectedUpdatedAt string) (*domain.Document, error) {
	expected, err := parseToken(expectedUpdatedAt)
	if err != nil {
		// An unparseable token can never match a stored timestamp, so
		// it resolves the same way a stale one does.
		return nil, r.conflictFor(ctx, id)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET title = COALESCE($3, title),
		    content_rich = $4,
		    content_plain = $5,
		    content_hash = $6,
		    metadata = COALESCE($7, metadata),
		    word_count = $8,
		    last_saved_at = now(),
		    updated_at = clock_timestamp()
		WHERE id = $1 AND updated_at = $2
		RETURNING %s
	`, r.tables.Documents, documentColumns)

	doc, err := r.scanDocument(r.pool.QueryRow(ctx, query,
		id,
		expected,
		update.Title,
		update.ContentRich,
		update.ContentPlain,
		update.ContentHash,
		update.Metadata,
		domain.CountWords(update.ContentPlain),
	))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, r.conflictFor(ctx, id)
		}
		return nil, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// Overwrite writes unconditionally.
func (r *PostgresDocumentRepository) Overwrite(ctx context.Context, id string, update *domain.DocumentUpdate) (*domain.Document, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = COALESCE($2, title),
		    content_rich = $3,
		    content_plain = $4,
		    content_hash = $5,
		    metadata = COALESCE($6, metadata),
		    word_count = $7,
		    last_saved_at = now(),
		    updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING %s
	`, r.tables.Documents, documentColumns)

	doc, err := r.scanDocument(r.pool.QueryRow(ctx, query,
		id,
		update.Title,
		update.ContentRich,
		update.ContentPlain,
		update.ContentHash,
		update.Metadata,
		domain.CountWords(update.ContentPlain),
	))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("document %s not found", id)}
		}
		return nil, fmt.Errorf("overwrite document: %w", err)
	}
	return doc, nil
}

// conflictFor builds the ConflictError for a failed conditional update,
// attaching the row as it currently stands.
func (r *PostgresDocumentRepository) conflictFor(ctx context.Context, id string) error {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.logger.Debug("conditional update rejected", "document_id", id, "updated_at", doc.UpdatedAt)
	return &domain.ConflictError{
		Message: "document was modified by another session",
		ServerState: &domain.ConflictState{
			ContentRich:  doc.ContentRich,
			ContentPlain: doc.ContentPlain,
			ContentHash:  doc.ContentHash,
			Title:        doc.Title,
			UpdatedAt:    doc.UpdatedAt,
		},
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresDocumentRepository) scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var lastSavedAt *time.Time
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.ContentRich,
		&doc.ContentPlain,
		&doc.ContentHash,
		&doc.Metadata,
		&doc.WordCount,
		&lastSavedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.LastSavedAt = lastSavedAt
	doc.CreatedAt = createdAt
	doc.UpdatedAt = formatToken(updatedAt)
	return &doc, nil
}

// formatToken renders the stored timestamp as the wire token. The round
// trip through parseToken must be lossless or every save would conflict.
func formatToken(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseToken(token string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, token)
}
