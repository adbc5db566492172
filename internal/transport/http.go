package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/peteroluoch/africa-offline-os/pkg/api"
)

// TokenSource supplies the bearer token attached to outbound requests.
type TokenSource interface {
	Token() (string, error)
}

// HTTPTransport talks the sync protocol to one peer over HTTP+JSON.
type HTTPTransport struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
}

// NewHTTPTransport creates a transport for the peer at baseURL.
// tokens may be nil when peer auth is disabled.
func NewHTTPTransport(baseURL string, tokens TokenSource) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendRequest opens a session and returns the peer's delta.
func (t *HTTPTransport) SendRequest(ctx context.Context, req api.SyncRequest) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	if err := t.doRequest(ctx, http.MethodPost, "/api/v1/sync/request", req, &resp); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	return &resp, nil
}

// SendChanges pushes this node's outgoing delta.
func (t *HTTPTransport) SendChanges(ctx context.Context, push api.SyncPush) (*api.SyncAck, error) {
	var ack api.SyncAck
	if err := t.doRequest(ctx, http.MethodPost, "/api/v1/sync/changes", push, &ack); err != nil {
		return nil, fmt.Errorf("sync push failed: %w", err)
	}
	return &ack, nil
}

// SendAck confirms that the peer's delta was durably applied.
func (t *HTTPTransport) SendAck(ctx context.Context, ack api.SyncAck) error {
	if err := t.doRequest(ctx, http.MethodPost, "/api/v1/sync/ack", ack, nil); err != nil {
		return fmt.Errorf("sync ack failed: %w", err)
	}
	return nil
}

// doRequest performs one HTTP round-trip. Network failures map to
// ErrPeerUnreachable; non-2xx responses map to ErrPeerRejected.
func (t *HTTPTransport) doRequest(ctx context.Context, method, path string, body, result any) error {
	url := t.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.tokens != nil {
		token, err := t.tokens.Token()
		if err != nil {
			return fmt.Errorf("failed to get peer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Anything that failed before a response arrived counts as unreachable
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrPeerUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("%w (%d): %s", ErrPeerRejected, resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("%w (%d): %s", ErrPeerRejected, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
