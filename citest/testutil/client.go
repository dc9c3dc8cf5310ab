package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dbt-portal/dbtsync/internal/relay"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

// TestClient reads the relay's HTTP endpoints.
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a client for the relay at baseURL.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.Path, e.Code, e.Body)
}

// getJSON fetches path and decodes the body into v.
func (c *TestClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return &StatusError{Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return json.Unmarshal(body, v)
}

// Health returns the relay's health report.
func (c *TestClient) Health(ctx context.Context) (*relay.HealthResponse, error) {
	var health relay.HealthResponse
	if err := c.getJSON(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Snapshot returns the collections the relay holds.
func (c *TestClient) Snapshot(ctx context.Context) (*types.DataSync, error) {
	var snapshot types.DataSync
	if err := c.getJSON(ctx, "/snapshot", &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
