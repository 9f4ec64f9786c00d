package config

import (
	"context"
	"os"
)

// EnvProvider reads values from the process environment.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (e *EnvProvider) GetSecret(_ context.Context, key string) (string, error) {
	return os.Getenv(key), nil
}

func (e *EnvProvider) Name() string {
	return "env"
}

// IsAvailable is always true.
func (e *EnvProvider) IsAvailable(context.Context) bool {
	return true
}
