package llm

import (
	"context"
	"time"
)

// Client is a text-completion service.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds configuration for LLM clients
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}
