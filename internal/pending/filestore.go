package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vellum/internal/domain"
)

// FileStore is the synchronous fallback adapter: one JSON file per
// document, written with write-temp-then-rename plus fsync so the record
// is on disk before Put returns. It exists for the unload path, where the
// process may die before the primary store finishes its write.
type FileStore struct {
	dir string
}

// NewFileStore creates the fallback store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(documentID string) string {
	// Document ids are UUIDs, but sanitize anyway so a hostile id cannot
	// escape the store directory.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, documentID)
	return filepath.Join(s.dir, safe+".json")
}

// Put writes the record durably before returning.
func (s *FileStore) Put(ctx context.Context, save *domain.PendingSave) error {
	data, err := json.Marshal(save)
	if err != nil {
		return fmt.Errorf("encode pending save: %w", err)
	}

	target := s.path(save.DocumentID)
	tmp, err := os.CreateTemp(s.dir, "pending-*.tmp")
	if err != nil {
		return fmt.Errorf("create fallback temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write fallback record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync fallback record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close fallback record: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit fallback record: %w", err)
	}
	return nil
}

// Get returns the stored record, or (nil, nil) when none exists.
func (s *FileStore) Get(ctx context.Context, documentID string) (*domain.PendingSave, error) {
	data, err := os.ReadFile(s.path(documentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fallback record %s: %w", documentID, err)
	}
	var save domain.PendingSave
	if err := json.Unmarshal(data, &save); err != nil {
		// Corrupt fallback records are dropped; the primary store still
		// holds its own copy when one exists.
		_ = os.Remove(s.path(documentID))
		return nil, nil
	}
	return &save, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *FileStore) Delete(ctx context.Context, documentID string) error {
	err := os.Remove(s.path(documentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete fallback record %s: %w", documentID, err)
	}
	return nil
}
