package config

import (
	"context"
	"fmt"
)

// SecretProvider is a source of configuration values keyed by their
// environment variable name.
type SecretProvider interface {
	// GetSecret returns the value for key, or "" when the provider has none.
	GetSecret(ctx context.Context, key string) (string, error)

	Name() string

	// IsAvailable reports whether the provider can be consulted at all.
	IsAvailable(ctx context.Context) bool
}

// ChainProvider consults providers in order and returns the first non-empty value.
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider builds a chain; earlier providers win.
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		if !p.IsAvailable(ctx) {
			continue
		}
		value, err := p.GetSecret(ctx, key)
		if err == nil && value != "" {
			return value, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return "", fmt.Errorf("no available provider found for key: %s", key)
}

func (c *ChainProvider) Name() string {
	return "chain"
}

func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// MapProvider serves values from a fixed map. Command-line overrides and
// tests use it ahead of the file and env providers.
type MapProvider map[string]string

func (m MapProvider) GetSecret(_ context.Context, key string) (string, error) {
	return m[key], nil
}

func (m MapProvider) Name() string {
	return "map"
}

func (m MapProvider) IsAvailable(context.Context) bool {
	return len(m) > 0
}
