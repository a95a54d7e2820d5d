package client

import (
	"context"
	"errors"
	"testing"

	"github.com/h2non/gock"

	"vellum/internal/domain"
)

const baseURL = "http://vellum.test/api/v1"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g := New(baseURL, "test-token")
	gock.InterceptClient(g.HTTPClient())
	t.Cleanup(gock.OffAll)
	return g
}

func TestGetDocument(t *testing.T) {
	g := newTestGateway(t)
	gock.New(baseURL).
		Get("/documents/doc-1").
		MatchHeader("Authorization", "Bearer test-token").
		Reply(200).
		JSON(map[string]interface{}{
			"id":            "doc-1",
			"title":         "Chapter One",
			"content_plain": "It was a dark and stormy night.",
			"updated_at":    "2026-08-30T10:00:00.000Z",
		})

	doc, err := g.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ID != "doc-1" || doc.UpdatedAt != "2026-08-30T10:00:00.000Z" {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestUpdateDocumentSendsCursor(t *testing.T) {
	g := newTestGateway(t)
	gock.New(baseURL).
		Patch("/documents/doc-1").
		JSON(map[string]interface{}{
			"content_rich":        map[string]interface{}{"type": "doc"},
			"content_plain":       "new draft",
			"content_hash":        domain.ContentHash("new draft"),
			"expected_updated_at": "ts-1",
		}).
		Reply(200).
		JSON(map[string]interface{}{
			"id":         "doc-1",
			"updated_at": "ts-2",
		})

	update := &domain.DocumentUpdate{
		ContentRich:  map[string]interface{}{"type": "doc"},
		ContentPlain: "new draft",
		ContentHash:  domain.ContentHash("new draft"),
	}
	doc, err := g.UpdateDocument(context.Background(), "doc-1", update, "ts-1")
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if doc.UpdatedAt != "ts-2" {
		t.Errorf("UpdatedAt = %q, want ts-2", doc.UpdatedAt)
	}
}

func TestUpdateDocumentConflictCarriesServerState(t *testing.T) {
	g := newTestGateway(t)
	gock.New(baseURL).
		Patch("/documents/doc-1").
		Reply(409).
		JSON(map[string]interface{}{
			"title":  "Conflict",
			"detail": "document was modified by another session",
			"server_state": map[string]interface{}{
				"content_plain": "their draft",
				"content_hash":  domain.ContentHash("their draft"),
				"updated_at":    "ts-9",
			},
		})

	_, err := g.UpdateDocument(context.Background(), "doc-1", &domain.DocumentUpdate{ContentPlain: "mine"}, "ts-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
	var confErr *domain.ConflictError
	if !errors.As(err, &confErr) {
		t.Fatalf("error type = %T", err)
	}
	if confErr.ServerState == nil || confErr.ServerState.UpdatedAt != "ts-9" {
		t.Errorf("server state = %+v", confErr.ServerState)
	}
	if confErr.ServerState.ContentPlain != "their draft" {
		t.Errorf("server content = %q", confErr.ServerState.ContentPlain)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"server error is transient", 500, domain.ErrTransient},
		{"gateway timeout is transient", 504, domain.ErrTransient},
		{"rate limit is transient", 429, domain.ErrTransient},
		{"bad request is validation", 400, domain.ErrValidation},
		{"unprocessable is validation", 422, domain.ErrValidation},
		{"missing document", 404, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t)
			gock.New(baseURL).
				Get("/documents/doc-1").
				Reply(tt.status).
				JSON(map[string]interface{}{"detail": "nope"})

			_, err := g.GetDocument(context.Background(), "doc-1")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("status %d mapped to %v, want %v", tt.status, err, tt.sentinel)
			}
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	g := newTestGateway(t)
	gock.New(baseURL).
		Patch("/documents/doc-1").
		ReplyError(errors.New("connection refused"))

	_, err := g.UpdateDocument(context.Background(), "doc-1", &domain.DocumentUpdate{}, "ts-1")
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("network failure mapped to %v, want transient", err)
	}
}

func TestListVersionsPagination(t *testing.T) {
	g := newTestGateway(t)
	gock.New(baseURL).
		Get("/documents/doc-1/versions").
		MatchParam("limit", "2").
		MatchParam("cursor", "v-3").
		Reply(200).
		JSON(map[string]interface{}{
			"versions": []map[string]interface{}{
				{"version_number": 2, "content_plain": "older"},
				{"version_number": 1, "content_plain": "oldest"},
			},
			"has_more":    false,
			"next_cursor": "",
		})

	list, err := g.ListVersions(context.Background(), "doc-1", 2, "v-3")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(list.Versions) != 2 || list.HasMore {
		t.Errorf("unexpected page: %+v", list)
	}
	if list.Versions[0].VersionNumber != 2 {
		t.Errorf("versions not newest first: %+v", list.Versions)
	}
}

func TestPingTreatsAnyResponseAsUp(t *testing.T) {
	g := newTestGateway(t)
	gock.New(baseURL).
		Get("/health").
		Reply(503)

	if err := g.Ping(context.Background()); err != nil {
		t.Errorf("a 503 still proves the network path is up, got %v", err)
	}

	gock.New(baseURL).
		Get("/health").
		ReplyError(errors.New("no route to host"))

	if err := g.Ping(context.Background()); !errors.Is(err, domain.ErrTransient) {
		t.Errorf("transport failure should be transient, got %v", err)
	}
}
