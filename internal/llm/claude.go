package llm

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

const (
	ClaudeAPIBaseURL = "https://api.anthropic.com/v1"
	ClaudeVersion    = "2023-06-01"
	DefaultModel     = "claude-3-5-sonnet-20241022"
	MaxTokens        = 1500
)

// ClaudeClient implements Client on Anthropic's Messages API at temperature 0.
type ClaudeClient struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	retry     RetryConfig
	http      *http.Client
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// text concatenates the text blocks; tool and thinking blocks are skipped.
func (r *messagesResponse) text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "" || block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// APIError is a non-200 answer from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	var prefix string
	switch e.StatusCode {
	case http.StatusUnauthorized:
		prefix = "invalid API key"
	case http.StatusBadRequest:
		prefix = "bad request"
	case http.StatusTooManyRequests:
		prefix = "rate limit exceeded"
	case 529:
		prefix = "Claude API overloaded"
	default:
		prefix = fmt.Sprintf("Claude API error %d", e.StatusCode)
	}
	return prefix + ": " + e.Message
}

// NewClaudeClient validates config and fills in defaults.
func NewClaudeClient(config Config) (*ClaudeClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	c := &ClaudeClient{
		apiKey:    config.APIKey,
		model:     cmp.Or(config.Model, DefaultModel),
		baseURL:   strings.TrimRight(cmp.Or(config.BaseURL, ClaudeAPIBaseURL), "/"),
		maxTokens: config.MaxTokens,
		retry:     DefaultRetryConfig,
		http:      &http.Client{Timeout: config.Timeout},
	}
	if c.maxTokens <= 0 {
		c.maxTokens = MaxTokens
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 30 * time.Second
	}
	return c, nil
}

// WithRetryConfig replaces the retry policy.
func (c *ClaudeClient) WithRetryConfig(rc RetryConfig) *ClaudeClient {
	c.retry = rc
	return c
}

// Complete sends prompt as a single user turn and returns the reply text.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.sendClaudeRequestWithRetry(ctx, messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
	observability.RecordLLMMetrics("complete", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("claude request failed: %w", err)
	}
	observability.RecordLLMTokens(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp.text(), nil
}

func (c *ClaudeClient) sendClaudeRequest(ctx context.Context, request messagesRequest) (*messagesResponse, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", ClaudeVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var out messagesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

func parseAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Type: envelope.Error.Type, Message: envelope.Error.Message}
}
