package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status is the UI-facing autosave status.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSaving   Status = "saving"
	StatusSaved    Status = "saved"
	StatusError    Status = "error"
	StatusOffline  Status = "offline"
	StatusConflict Status = "conflict"
)

// Document is the local mirror of the server-owned manuscript.
// UpdatedAt is the server-assigned optimistic-concurrency token and is
// treated as an opaque string: the client only ever compares it for
// equality, never interprets it.
type Document struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	ContentRich  map[string]interface{} `json:"content_rich"`
	ContentPlain string                 `json:"content_plain"`
	ContentHash  string                 `json:"content_hash"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	WordCount    int                    `json:"word_count"`
	LastSavedAt  *time.Time             `json:"last_saved_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

// DocumentUpdate is the payload of a save attempt.
type DocumentUpdate struct {
	ContentRich  map[string]interface{} `json:"content_rich"`
	ContentPlain string                 `json:"content_plain"`
	ContentHash  string                 `json:"content_hash"`
	Title        *string                `json:"title,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EditSnapshot is the latest in-memory edit of a document. The scheduler
// keeps exactly one per document; newer snapshots supersede older ones.
type EditSnapshot struct {
	ContentRich  map[string]interface{} `json:"content_rich"`
	ContentPlain string                 `json:"content_plain"`
	Title        string                 `json:"title,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// PendingSave is a durably stored, not-yet-confirmed write. At most one
// exists per document; a newer PendingSave overwrites an older one.
type PendingSave struct {
	DocumentID        string                 `json:"document_id"`
	ContentRich       map[string]interface{} `json:"content_rich"`
	ContentPlain      string                 `json:"content_plain"`
	Title             string                 `json:"title,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ExpectedUpdatedAt string                 `json:"expected_updated_at"`
	EnqueuedAt        time.Time              `json:"enqueued_at"`
}

// Version is an immutable point-in-time snapshot of a document. Versions
// are only ever created by this subsystem, never mutated or deleted.
type Version struct {
	ID            string                 `json:"id"`
	DocumentID    string                 `json:"document_id"`
	VersionNumber int                    `json:"version_number"`
	ContentRich   map[string]interface{} `json:"content_rich"`
	ContentPlain  string                 `json:"content_plain"`
	Title         string                 `json:"title"`
	CreatedAt     time.Time              `json:"created_at"`
}

// VersionSnapshot is the payload for creating a Version.
type VersionSnapshot struct {
	ContentRich  map[string]interface{} `json:"content_rich"`
	ContentPlain string                 `json:"content_plain"`
	Title        string                 `json:"title"`
}

// VersionList is a page of version history, newest first.
type VersionList struct {
	Versions   []Version `json:"versions"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ConflictState carries the authoritative server state attached to a
// concurrency conflict so the resolver (and the UI) can act on it.
type ConflictState struct {
	ContentRich  map[string]interface{} `json:"content_rich,omitempty"`
	ContentPlain string                 `json:"content_plain"`
	ContentHash  string                 `json:"content_hash"`
	Title        string                 `json:"title"`
	UpdatedAt    string                 `json:"updated_at"`
}

// AutosaveState is the externally observable status of a document's
// autosave lifecycle.
type AutosaveState struct {
	Status             Status     `json:"status"`
	LastSavedAt        *time.Time `json:"last_saved_at,omitempty"`
	Error              string     `json:"error,omitempty"`
	PendingChanges     bool       `json:"pending_changes"`
	RetryCount         int        `json:"retry_count"`
	RetryingIn         *int       `json:"retrying_in,omitempty"` // seconds until next retry
	MaxRetriesExceeded bool       `json:"max_retries_exceeded"`
}

// SaveOutcome classifies the result of a single save attempt.
type SaveOutcome int

const (
	OutcomeSaved SaveOutcome = iota
	OutcomeOffline
	OutcomeConflict
	OutcomeRetrying
	OutcomeFailed
)

func (o SaveOutcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeOffline:
		return "offline"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRetrying:
		return "retrying"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// ResolutionStrategy selects how a write conflict is reconciled.
type ResolutionStrategy string

const (
	ResolveOverwrite ResolutionStrategy = "overwrite"
	ResolveReload    ResolutionStrategy = "reload"
	ResolveMerge     ResolutionStrategy = "merge"
)

// ContentHash returns the content-addressed digest of the plain text,
// hex-encoded SHA-256. Both sides of a conflict compare this value to
// detect benign (content-identical) conflicts.
func ContentHash(contentPlain string) string {
	sum := sha256.Sum256([]byte(contentPlain))
	return hex.EncodeToString(sum[:])
}

// CountWords counts whitespace-separated tokens in plain text.
func CountWords(contentPlain string) int {
	return len(strings.Fields(contentPlain))
}
