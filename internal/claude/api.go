package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIBaseURL  = "https://api.anthropic.com"
	defaultAPIModel    = "claude-3-5-haiku-latest"
	defaultAPITimeout  = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultRateLimit   = 50.0 / 60.0
	defaultBurst       = 5
	anthropicVersion   = "2023-06-01"
	classifyMaxTokens  = 256
)

// APIOptions configures the Messages API client.
type APIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	MaxRetries int
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// APIClient calls the Anthropic Messages API for single-turn completions.
type APIClient struct {
	model       string
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAPIClient creates a Messages API client.
func NewAPIClient(opts APIOptions) (*APIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}

	c := &APIClient{
		model:       opts.Model,
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		maxRetries:  opts.MaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	if c.model == "" {
		c.model = defaultAPIModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultAPIBaseURL
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultAPITimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}

	limit, burst := opts.RateLimit, opts.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	c.limiter = rate.NewLimiter(rate.Limit(limit), burst)

	return c, nil
}

// Model returns the model used for completions.
func (c *APIClient) Model() string { return c.model }

// Classify sends one system+user exchange and returns the text reply.
//
// The call waits on the client's rate limiter and retries transient
// failures (transport errors, 429, 5xx) with exponential backoff.
func (c *APIClient) Classify(ctx context.Context, system, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := apiRequest{
		Model:     c.model,
		MaxTokens: classifyMaxTokens,
		System:    system,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			if rl, ok := asRateLimit(lastErr); ok && rl.RetryAfter > backoff {
				backoff = rl.RetryAfter
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *APIClient) doRequest(ctx context.Context, req apiRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: &RateLimitError{
			Provider:    "anthropic",
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
			RawResponse: truncateString(string(data), 500),
		}}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, truncateString(string(data), 500))}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, truncateString(string(data), 500))
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return text.String(), nil
}

func asRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if err != nil && errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
