package domain

import (
	"context"
	"time"
)

// ServerGateway is the client-side view of the server of record. Update
// performs a conditional write: it succeeds only while the server-side
// updated_at still equals expectedUpdatedAt, and returns a *ConflictError
// carrying the authoritative state otherwise. Overwrite bypasses the
// concurrency check entirely and is reserved for explicit resolution
// actions.
type ServerGateway interface {
	GetDocument(ctx context.Context, documentID string) (*Document, error)
	UpdateDocument(ctx context.Context, documentID string, update *DocumentUpdate, expectedUpdatedAt string) (*Document, error)
	OverwriteDocument(ctx context.Context, documentID string, update *DocumentUpdate) (*Document, error)
	CreateVersion(ctx context.Context, documentID string, snapshot *VersionSnapshot) (*Version, error)
	GetVersion(ctx context.Context, documentID string, versionNumber int) (*Version, error)
	ListVersions(ctx context.Context, documentID string, limit int, cursor string) (*VersionList, error)
	Ping(ctx context.Context) error
}

// DurableStore persists PendingSave records across process termination.
// Put must be durable before it returns success, not merely buffered.
// Get returns (nil, nil) when no record exists for the document.
type DurableStore interface {
	Put(ctx context.Context, save *PendingSave) error
	Get(ctx context.Context, documentID string) (*PendingSave, error)
	Delete(ctx context.Context, documentID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
