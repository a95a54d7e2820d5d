package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"vellum/internal/domain"
	"vellum/internal/domain/repositories"
)

// PostgresVersionRepository implements repositories.VersionRepository.
//
// Version numbers are assigned inside the INSERT from MAX+1 over the
// document's existing versions. Two concurrent inserts can compute the
// same number; the unique index on (document_id, version_number) turns
// that into a 23505, which Create retries.
type PostgresVersionRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(config *RepositoryConfig) repositories.VersionRepository {
	return &PostgresVersionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const versionInsertRetries = 3

func (r *PostgresVersionRepository) Create(ctx context.Context, documentID string, snapshot *domain.VersionSnapshot) (*domain.Version, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, version_number, content_rich, content_plain, title)
		SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4
		FROM %s WHERE document_id = $1
		RETURNING id, version_number, created_at
	`, r.tables.Versions, r.tables.Versions)

	var lastErr error
	for i := 0; i < versionInsertRetries; i++ {
		v := domain.Version{
			DocumentID:   documentID,
			ContentRich:  snapshot.ContentRich,
			ContentPlain: snapshot.ContentPlain,
			Title:        snapshot.Title,
		}
		err := r.pool.QueryRow(ctx, query,
			documentID,
			snapshot.ContentRich,
			snapshot.ContentPlain,
			snapshot.Title,
		).Scan(&v.ID, &v.VersionNumber, &v.CreatedAt)
		if err == nil {
			return &v, nil
		}
		if !IsPgDuplicateError(err) {
			return nil, fmt.Errorf("create version: %w", err)
		}
		lastErr = err
		r.logger.Debug("version number collision, retrying", "document_id", documentID, "attempt", i+1)
	}
	return nil, fmt.Errorf("create version: %w", lastErr)
}

func (r *PostgresVersionRepository) GetByNumber(ctx context.Context, documentID string, versionNumber int) (*domain.Version, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, version_number, content_rich, content_plain, title, created_at
		FROM %s
		WHERE document_id = $1 AND version_number = $2
	`, r.tables.Versions)

	var v domain.Version
	err := r.pool.QueryRow(ctx, query, documentID, versionNumber).Scan(
		&v.ID,
		&v.DocumentID,
		&v.VersionNumber,
		&v.ContentRich,
		&v.ContentPlain,
		&v.Title,
		&v.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("version %d of document %s not found", versionNumber, documentID)}
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &v, nil
}

// List pages the history newest first. The cursor is the version number
// of the last entry on the previous page; version numbers are strictly
// decreasing down the listing, which makes the cursor stable even while
// new versions are being created.
func (r *PostgresVersionRepository) List(ctx context.Context, documentID string, limit int, cursor string) (*domain.VersionList, error) {
	before := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("invalid cursor %q", cursor)}
		}
		before = n
	}

	// Fetch one extra row to learn whether another page exists.
	var query string
	args := []interface{}{documentID, limit + 1}
	if before > 0 {
		query = fmt.Sprintf(`
			SELECT id, document_id, version_number, content_rich, content_plain, title, created_at
			FROM %s
			WHERE document_id = $1 AND version_number < $3
			ORDER BY version_number DESC
			LIMIT $2
		`, r.tables.Versions)
		args = append(args, before)
	} else {
		query = fmt.Sprintf(`
			SELECT id, document_id, version_number, content_rich, content_plain, title, created_at
			FROM %s
			WHERE document_id = $1
			ORDER BY version_number DESC
			LIMIT $2
		`, r.tables.Versions)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]domain.Version, 0, limit)
	for rows.Next() {
		var v domain.Version
		if err := rows.Scan(
			&v.ID,
			&v.DocumentID,
			&v.VersionNumber,
			&v.ContentRich,
			&v.ContentPlain,
			&v.Title,
			&v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	list := &domain.VersionList{Versions: versions}
	if len(versions) > limit {
		list.Versions = versions[:limit]
		list.HasMore = true
		list.NextCursor = strconv.Itoa(list.Versions[limit-1].VersionNumber)
	}
	return list, nil
}
