package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// RetryConfig defines retry behavior for Claude API calls
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
}

// DefaultRetryConfig provides sensible defaults for retry behavior
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   5 * time.Second,
}

func (c *ClaudeClient) sendClaudeRequestWithRetry(ctx context.Context, request messagesRequest) (*messagesResponse, error) {
	var response *messagesResponse
	err := withRetry(ctx, c.retry, func() error {
		var err error
		response, err = c.sendClaudeRequest(ctx, request)
		return err
	})
	return response, err
}

// withRetry calls op until it succeeds, fails with a non-retryable error or
// exhausts cfg.MaxRetries.
func withRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(calculateBackoff(attempt, cfg.BaseDelay, cfg.MaxDelay))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("request cancelled during retry: %w", ctx.Err())
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// isRetryableError reports whether a failed call may succeed if repeated:
// throttling, upstream 5xx, timeouts and dropped connections.
func isRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isHTTPStatusRetryable(apiErr.StatusCode)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// calculateBackoff doubles baseDelay per attempt, caps it at maxDelay and
// draws the wait from the upper half of that window.
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := maxDelay
	if attempt < 30 {
		delay = min(baseDelay<<attempt, maxDelay)
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func isHTTPStatusRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // overloaded
		return true
	default:
		return false
	}
}
