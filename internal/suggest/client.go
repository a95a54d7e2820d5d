package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"vellum/internal/domain"
)

const clientTimeout = 30 * time.Second

// Suggestion is one proposed fix from the suggestion service. FixedContent
// is the full replacement text; applying it is a normal edit that flows
// through the save pipeline like any keystroke.
type Suggestion struct {
	Summary      string `json:"summary"`
	FixedContent string `json:"fixed_content"`
}

type suggestRequest struct {
	ContentPlain string `json:"content_plain"`
	Instruction  string `json:"instruction,omitempty"`
}

// Client fetches suggestions from an external service. Responses are
// cached by content hash plus instruction, since the editor re-requests
// while the text sits still.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	cache      *cache.Cache
}

// NewClient creates a suggestion client against baseURL.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: clientTimeout},
		cache:      cache.New(DefaultCacheTTL, DefaultCacheCleanup),
	}
}

// HTTPClient exposes the underlying client for request interception in
// tests.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// Suggest asks the service for a fix to the given content. Identical
// content with the same instruction is served from cache.
func (c *Client) Suggest(ctx context.Context, contentPlain, instruction string) (*Suggestion, error) {
	key := domain.ContentHash(contentPlain + "\x00" + instruction)
	if hit, ok := c.cache.Get(key); ok {
		s := hit.(Suggestion)
		return &s, nil
	}

	data, err := json.Marshal(suggestRequest{ContentPlain: contentPlain, Instruction: instruction})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/suggest", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &domain.TransientError{Message: fmt.Sprintf("suggestion service returned status %d", resp.StatusCode)}
		}
		return nil, &domain.ValidationError{Message: fmt.Sprintf("suggestion service returned status %d", resp.StatusCode)}
	}

	var s Suggestion
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	c.cache.Set(key, s, cache.DefaultExpiration)
	return &s, nil
}
