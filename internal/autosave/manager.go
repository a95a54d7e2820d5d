package autosave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vellum/internal/domain"
)

// Manager owns one engine per open document and hands edits, saves and
// resolutions to the right one. Opening the same document twice returns
// the existing engine.
type Manager struct {
	deps Deps
	opts Options

	logger *slog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(deps Deps, opts Options) *Manager {
	return &Manager{
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger,
		engines: make(map[string]*Engine),
	}
}

// Open fetches the document to establish the concurrency baseline,
// starts an engine for it, and replays any durable pending write left
// over from a previous session.
func (m *Manager) Open(ctx context.Context, documentID string) (*Engine, *domain.Document, error) {
	m.mu.Lock()
	if eng, ok := m.engines[documentID]; ok {
		m.mu.Unlock()
		doc, err := m.deps.Gateway.GetDocument(ctx, documentID)
		if err != nil {
			return eng, nil, err
		}
		return eng, doc, nil
	}
	m.mu.Unlock()

	doc, err := m.deps.Gateway.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("open document %s: %w", documentID, err)
	}

	m.mu.Lock()
	if eng, ok := m.engines[documentID]; ok {
		m.mu.Unlock()
		return eng, doc, nil
	}
	eng := NewEngine(documentID, doc.UpdatedAt, m.deps, m.opts)
	m.engines[documentID] = eng
	m.mu.Unlock()

	if err := eng.ReplayPending(ctx); err != nil {
		m.logger.Warn("startup replay failed", "document_id", documentID, "error", err)
	}
	return eng, doc, nil
}

// Get returns the engine for an already open document.
func (m *Manager) Get(documentID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eng, ok := m.engines[documentID]
	if !ok {
		return nil, &domain.NotFoundError{Message: "document " + documentID + " is not open"}
	}
	return eng, nil
}

// CloseDocument stops the document's engine, preserving unsaved changes
// in the durable store.
func (m *Manager) CloseDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	eng, ok := m.engines[documentID]
	delete(m.engines, documentID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.deps.Snapshots.ResetSession(documentID)
	return eng.Close(ctx)
}

// Close stops every engine. Used on agent shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	var firstErr error
	for _, eng := range engines {
		if err := eng.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
