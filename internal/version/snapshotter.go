// Package version creates immutable point-in-time snapshots of documents
// on a save cadence, and restores them without ever destroying history.
package version

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vellum/internal/domain"
)

// DefaultThreshold is the number of successful saves between snapshots.
const DefaultThreshold = 3

// Snapshotter writes version snapshots on a per-session cadence: the
// first confirmed save of a session snapshots, then every threshold
// saves after that. Snapshot failures are logged and swallowed - they
// must never change the outcome of the save that triggered them.
type Snapshotter struct {
	gateway   domain.ServerGateway
	threshold int
	logger    *slog.Logger

	mu     sync.Mutex
	counts map[string]int // per-document successful saves since last snapshot
}

// NewSnapshotter creates a snapshotter. A threshold below 1 falls back
// to DefaultThreshold.
func NewSnapshotter(gateway domain.ServerGateway, threshold int, logger *slog.Logger) *Snapshotter {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Snapshotter{
		gateway:   gateway,
		threshold: threshold,
		logger:    logger,
		counts:    make(map[string]int),
	}
}

// MaybeSnapshot is invoked after every confirmed successful save. It
// decides whether this save lands on the cadence and, if so, writes a
// snapshot. Best effort: errors are logged, never returned.
func (s *Snapshotter) MaybeSnapshot(ctx context.Context, documentID string, contentRich map[string]interface{}, contentPlain, title string) {
	s.mu.Lock()
	count := s.counts[documentID]
	take := count == 0 || count >= s.threshold
	if take {
		s.counts[documentID] = 1
	} else {
		s.counts[documentID] = count + 1
	}
	s.mu.Unlock()

	if !take {
		return
	}

	v, err := s.gateway.CreateVersion(ctx, documentID, &domain.VersionSnapshot{
		ContentRich:  contentRich,
		ContentPlain: contentPlain,
		Title:        title,
	})
	if err != nil {
		s.logger.Warn("failed to create version snapshot",
			"document_id", documentID,
			"error", err,
		)
		return
	}
	s.logger.Debug("version snapshot created",
		"document_id", documentID,
		"version_number", v.VersionNumber,
	)
}

// Snapshot writes a snapshot unconditionally and returns it. Used by the
// restore flow, where failure matters.
func (s *Snapshotter) Snapshot(ctx context.Context, documentID string, snapshot *domain.VersionSnapshot) (*domain.Version, error) {
	return s.gateway.CreateVersion(ctx, documentID, snapshot)
}

// Restore replaces the document's content with an older version, keeping
// history monotonically additive: the pre-restore state is snapshotted
// first, then the document is overwritten, then the restored content is
// snapshotted again. No existing version is altered or removed.
//
// The caller must reset the engine's expectedUpdatedAt cursor to the
// returned document's UpdatedAt.
func (s *Snapshotter) Restore(ctx context.Context, documentID string, versionNumber int) (*domain.Document, error) {
	v, err := s.gateway.GetVersion(ctx, documentID, versionNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch version %d: %w", versionNumber, err)
	}

	current, err := s.gateway.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch current document: %w", err)
	}

	// Pre-restore safety snapshot. Logged but not fatal: the restore
	// still proceeds, matching the additive-history guarantee as closely
	// as the server allows.
	if _, err := s.Snapshot(ctx, documentID, &domain.VersionSnapshot{
		ContentRich:  current.ContentRich,
		ContentPlain: current.ContentPlain,
		Title:        current.Title,
	}); err != nil {
		s.logger.Warn("failed to snapshot pre-restore state",
			"document_id", documentID,
			"error", err,
		)
	}

	title := v.Title
	doc, err := s.gateway.OverwriteDocument(ctx, documentID, &domain.DocumentUpdate{
		ContentRich:  v.ContentRich,
		ContentPlain: v.ContentPlain,
		ContentHash:  domain.ContentHash(v.ContentPlain),
		Title:        &title,
	})
	if err != nil {
		return nil, fmt.Errorf("restore version %d: %w", versionNumber, err)
	}

	if _, err := s.Snapshot(ctx, documentID, &domain.VersionSnapshot{
		ContentRich:  v.ContentRich,
		ContentPlain: v.ContentPlain,
		Title:        v.Title,
	}); err != nil {
		s.logger.Warn("failed to snapshot post-restore state",
			"document_id", documentID,
			"error", err,
		)
	}

	s.logger.Info("version restored",
		"document_id", documentID,
		"version_number", versionNumber,
	)
	return doc, nil
}

// ResetSession clears the per-session counter for a document, so the
// next successful save snapshots again. Called when a document is
// reopened.
func (s *Snapshotter) ResetSession(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, documentID)
}
