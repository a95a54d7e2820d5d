// Package pending implements the durable pending-write store: local
// persistence for unconfirmed saves so that a crash, network loss, or
// abrupt shutdown never loses an edit. Two adapters exist behind the
// domain.DurableStore interface - a LevelDB-backed primary and a
// synchronous single-file fallback - composed by Layered with a defined
// read-precedence rule.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"vellum/internal/domain"
)

// syncWrites forces fsync on every write so a Put that returned success
// survives process termination.
var syncWrites = &opt.WriteOptions{Sync: true}

// LevelDBStore is the primary durable store, one record per document id.
type LevelDBStore struct {
	db     *leveldb.DB
	logger *slog.Logger
}

// OpenLevelDB opens (or creates) the store at dir.
func OpenLevelDB(dir string, logger *slog.Logger) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	return &LevelDBStore{db: db, logger: logger}, nil
}

// Put stores the record, superseding any previous record for the same
// document.
func (s *LevelDBStore) Put(ctx context.Context, save *domain.PendingSave) error {
	data, err := json.Marshal(save)
	if err != nil {
		return fmt.Errorf("encode pending save: %w", err)
	}
	if err := s.db.Put([]byte(save.DocumentID), data, syncWrites); err != nil {
		return fmt.Errorf("put pending save %s: %w", save.DocumentID, err)
	}
	return nil
}

// Get returns the stored record, or (nil, nil) when none exists.
func (s *LevelDBStore) Get(ctx context.Context, documentID string) (*domain.PendingSave, error) {
	data, err := s.db.Get([]byte(documentID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending save %s: %w", documentID, err)
	}
	var save domain.PendingSave
	if err := json.Unmarshal(data, &save); err != nil {
		// A corrupt record is unrecoverable; drop it rather than wedge
		// replay forever.
		s.logger.Error("corrupt pending save record dropped",
			"document_id", documentID,
			"error", err,
		)
		_ = s.db.Delete([]byte(documentID), syncWrites)
		return nil, nil
	}
	return &save, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *LevelDBStore) Delete(ctx context.Context, documentID string) error {
	if err := s.db.Delete([]byte(documentID), syncWrites); err != nil {
		return fmt.Errorf("delete pending save %s: %w", documentID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
