package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// StatusClient polls the status endpoint of a running refacta server.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// Status mirrors the body of GET /api/v1/status.
type Status struct {
	Status       string  `json:"status"`
	Version      string  `json:"version,omitempty"`
	Root         string  `json:"root"`
	Specialists  int     `json:"specialists"`
	Generation   uint64  `json:"generation"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// TotalTokens returns input plus output tokens.
func (s Status) TotalTokens() int {
	return s.InputTokens + s.OutputTokens
}

// NewStatusClient creates a new status client
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Fetch reads the current server status.
func (c *StatusClient) Fetch(ctx context.Context) (Status, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Status{}, fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath("/api/v1/status")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return status, nil
}
