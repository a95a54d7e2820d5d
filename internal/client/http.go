// Package client talks to the server of record over HTTP and maps its
// responses onto the domain error taxonomy, so the save pipeline can
// decide between retrying, queueing and surfacing a conflict.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vellum/internal/domain"
)

const (
	// DefaultTimeout bounds a single request. Retries are the save
	// pipeline's job, not the transport's.
	DefaultTimeout = 30 * time.Second
)

// Gateway is the HTTP implementation of domain.ServerGateway.
type Gateway struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a gateway against baseURL (e.g. "http://localhost:8080/api/v1").
// authToken may be empty for unauthenticated servers.
func New(baseURL, authToken string) *Gateway {
	return &Gateway{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// NewWithClient creates a gateway with a caller-supplied http.Client.
func NewWithClient(baseURL, authToken string, httpClient *http.Client) *Gateway {
	return &Gateway{baseURL: baseURL, authToken: authToken, httpClient: httpClient}
}

// HTTPClient exposes the underlying client for request interception in
// tests.
func (g *Gateway) HTTPClient() *http.Client { return g.httpClient }

func (g *Gateway) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	var doc domain.Document
	if err := g.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// updateRequest is the conditional-write payload. ExpectedUpdatedAt
// travels in the body so the server can compare it atomically with the
// row it is about to touch.
type updateRequest struct {
	*domain.DocumentUpdate
	ExpectedUpdatedAt string `json:"expected_updated_at,omitempty"`
}

func (g *Gateway) UpdateDocument(ctx context.Context, documentID string, update *domain.DocumentUpdate, expectedUpdatedAt string) (*domain.Document, error) {
	body := updateRequest{DocumentUpdate: update, ExpectedUpdatedAt: expectedUpdatedAt}
	var doc domain.Document
	if err := g.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(documentID), body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (g *Gateway) OverwriteDocument(ctx context.Context, documentID string, update *domain.DocumentUpdate) (*domain.Document, error) {
	var doc domain.Document
	if err := g.do(ctx, http.MethodPut, "/documents/"+url.PathEscape(documentID), update, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (g *Gateway) CreateVersion(ctx context.Context, documentID string, snapshot *domain.VersionSnapshot) (*domain.Version, error) {
	var v domain.Version
	path := "/documents/" + url.PathEscape(documentID) + "/versions"
	if err := g.do(ctx, http.MethodPost, path, snapshot, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (g *Gateway) GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.Version, error) {
	var v domain.Version
	path := "/documents/" + url.PathEscape(documentID) + "/versions/" + strconv.Itoa(versionNumber)
	if err := g.do(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (g *Gateway) ListVersions(ctx context.Context, documentID string, limit int, cursor string) (*domain.VersionList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/documents/" + url.PathEscape(documentID) + "/versions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list domain.VersionList
	if err := g.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Ping probes the server's health endpoint. Any response, even a 5xx,
// proves the network path is up; only transport errors count as down.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Message: err.Error()}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

// do executes one JSON request/response round trip. Non-2xx statuses are
// mapped onto the domain error taxonomy; transport failures become
// TransientError so the caller retries or queues.
func (g *Gateway) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.authToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return g.mapError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// problemDetail mirrors the server's RFC 7807 error body. ServerState is
// attached to 409 responses so a conflict can be resolved without a
// second round trip.
type problemDetail struct {
	Title       string                `json:"title"`
	Detail      string                `json:"detail"`
	ServerState *domain.ConflictState `json:"server_state,omitempty"`
}

func (g *Gateway) mapError(status int, body []byte) error {
	var pd problemDetail
	_ = json.Unmarshal(body, &pd)
	msg := pd.Detail
	if msg == "" {
		msg = pd.Title
	}
	if msg == "" {
		msg = fmt.Sprintf("server returned status %d", status)
	}

	switch {
	case status == http.StatusConflict:
		return &domain.ConflictError{Message: msg, ServerState: pd.ServerState}
	case status == http.StatusNotFound:
		return &domain.NotFoundError{Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.UnauthorizedError{Message: msg}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &domain.ValidationError{Message: msg}
	case status == http.StatusTooManyRequests || status >= 500:
		return &domain.TransientError{Message: msg}
	default:
		return &domain.ValidationError{Message: msg}
	}
}
