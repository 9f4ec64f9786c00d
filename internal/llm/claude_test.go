package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{
	MaxRetries: 2,
	BaseDelay:  time.Millisecond,
	MaxDelay:   5 * time.Millisecond,
}

func newTestClaude(t *testing.T, handler http.HandlerFunc) *ClaudeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClaudeClient(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client.WithRetryConfig(fastRetry)
}

func writeMessage(w http.ResponseWriter, blocks ...contentBlock) {
	w.Header().Set("Content-Type", "application/json")
	resp := messagesResponse{ID: "msg_1", Model: DefaultModel, StopReason: "end_turn", Content: blocks}
	resp.Usage.InputTokens = 120
	resp.Usage.OutputTokens = 8
	_ = json.NewEncoder(w).Encode(resp)
}

func TestNewClaudeClient_RequiresKey(t *testing.T) {
	_, err := NewClaudeClient(Config{})
	assert.Error(t, err)

	client, err := NewClaudeClient(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.model)
	assert.Equal(t, ClaudeAPIBaseURL, client.baseURL)
	assert.Equal(t, MaxTokens, client.maxTokens)
}

func TestClaudeClient_Complete(t *testing.T) {
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, ClaudeVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "how many tasks?", req.Messages[0].Content)
		assert.Zero(t, req.Temperature)

		writeMessage(w,
			contentBlock{Type: "text", Text: "SELECT "},
			contentBlock{Type: "tool_use"},
			contentBlock{Type: "text", Text: "1"},
		)
	})

	text, err := client.Complete(context.Background(), "how many tasks?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)
}

func TestClaudeClient_RetriesRateLimit(t *testing.T) {
	var calls int32
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		writeMessage(w, contentBlock{Type: "text", Text: "ok"})
	})

	text, err := client.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClaudeClient_DoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key"}}`))
	})

	_, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key: bad key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "authentication_error", apiErr.Type)
}

func TestClaudeClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClaudeClient_CancelledContext(t *testing.T) {
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, contentBlock{Type: "text", Text: "late"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
