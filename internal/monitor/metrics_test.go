package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusClient(t *testing.T) {
	client := NewStatusClient("http://localhost:9090")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:9090", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestStatusClient_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Status{
			Status:       "ok",
			Root:         "/work/app",
			Specialists:  3,
			InputTokens:  1000,
			OutputTokens: 234,
			CostUSD:      0.0125,
		})
	}))
	defer server.Close()

	status, err := NewStatusClient(server.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 3, status.Specialists)
	assert.Equal(t, 1234, status.TotalTokens())
	assert.InDelta(t, 0.0125, status.CostUSD, 1e-9)
}

func TestStatusClient_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewStatusClient(server.URL).Fetch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

func TestStatusClient_Fetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewStatusClient(server.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 500")
}

func TestStatusClient_Fetch_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := NewStatusClient(server.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestStatusClient_Fetch_InvalidURL(t *testing.T) {
	_, err := NewStatusClient("://bad").Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base URL")
}
