package suggest

import (
	"context"
	"errors"
	"testing"

	"github.com/h2non/gock"

	"vellum/internal/domain"
)

const suggestURL = "http://suggest.test"

func TestClient_Suggest(t *testing.T) {
	c := NewClient(suggestURL, "token-1")
	gock.InterceptClient(c.HTTPClient())
	t.Cleanup(gock.OffAll)

	gock.New(suggestURL).
		Post("/suggest").
		MatchHeader("Authorization", "Bearer token-1").
		JSON(map[string]string{
			"content_plain": "teh quick fox",
			"instruction":   "fix spelling",
		}).
		Reply(200).
		JSON(map[string]string{
			"summary":       "fixed a typo",
			"fixed_content": "the quick fox",
		})

	s, err := c.Suggest(context.Background(), "teh quick fox", "fix spelling")
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if s.FixedContent != "the quick fox" {
		t.Errorf("FixedContent = %q, want %q", s.FixedContent, "the quick fox")
	}
	if s.Summary != "fixed a typo" {
		t.Errorf("Summary = %q, want %q", s.Summary, "fixed a typo")
	}
}

func TestClient_SuggestServedFromCache(t *testing.T) {
	c := NewClient(suggestURL, "")
	gock.InterceptClient(c.HTTPClient())
	t.Cleanup(gock.OffAll)

	// One mock only; the repeat call must not reach the network.
	gock.New(suggestURL).
		Post("/suggest").
		Reply(200).
		JSON(map[string]string{"summary": "ok", "fixed_content": "clean text"})

	ctx := context.Background()
	if _, err := c.Suggest(ctx, "same content", "tighten"); err != nil {
		t.Fatalf("first Suggest() error = %v", err)
	}
	s, err := c.Suggest(ctx, "same content", "tighten")
	if err != nil {
		t.Fatalf("cached Suggest() error = %v", err)
	}
	if s.FixedContent != "clean text" {
		t.Errorf("cached FixedContent = %q, want %q", s.FixedContent, "clean text")
	}
}

func TestClient_SuggestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "server error is transient", status: 500, want: domain.ErrTransient},
		{name: "rate limit is transient", status: 429, want: domain.ErrTransient},
		{name: "bad request is validation", status: 400, want: domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(suggestURL, "")
			gock.InterceptClient(c.HTTPClient())
			t.Cleanup(gock.OffAll)

			gock.New(suggestURL).
				Post("/suggest").
				Reply(tt.status)

			_, err := c.Suggest(context.Background(), "content", "")
			if !errors.Is(err, tt.want) {
				t.Errorf("Suggest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_SuggestTransportErrorIsTransient(t *testing.T) {
	c := NewClient(suggestURL, "")
	gock.InterceptClient(c.HTTPClient())
	t.Cleanup(gock.OffAll)

	gock.New(suggestURL).
		Post("/suggest").
		ReplyError(errors.New("connection refused"))

	_, err := c.Suggest(context.Background(), "content", "")
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("Suggest() error = %v, want transient", err)
	}
}
