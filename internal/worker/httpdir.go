package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPDirectory fetches users and channels from the platform gateway's
// REST surface. The base URL is injected from config so tests can point
// to a local mock.
type HTTPDirectory struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type listResponse struct {
	Items      []map[string]any `json:"items"`
	NextCursor string           `json:"next_cursor"`
}

func (d *HTTPDirectory) ListUsers(ctx context.Context, cursor string) ([]map[string]any, string, error) {
	return d.list(ctx, "/users", cursor)
}

func (d *HTTPDirectory) ListChannels(ctx context.Context, cursor string) ([]map[string]any, string, error) {
	return d.list(ctx, "/channels", cursor)
}

func (d *HTTPDirectory) list(ctx context.Context, path, cursor string) ([]map[string]any, string, error) {
	u := d.baseURL + path
	if cursor != "" {
		u += "?cursor=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("list %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected directory status: %d", resp.StatusCode)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}
	return lr.Items, lr.NextCursor, nil
}

// compile-time check that HTTPDirectory implements Directory
var _ Directory = (*HTTPDirectory)(nil)
