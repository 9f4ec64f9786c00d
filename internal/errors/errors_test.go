package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnhancedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *EnhancedError
		expected string
	}{
		{
			name:     "code and message only",
			err:      New(ErrCodeInvalidInput, "Invalid input"),
			expected: "[INVALID_INPUT] Invalid input",
		},
		{
			name:     "with details",
			err:      New(ErrCodeInvalidInput, "Invalid input").WithDetails("question is empty"),
			expected: "[INVALID_INPUT] Invalid input: question is empty",
		},
		{
			name:     "with cause",
			err:      Wrap(fmt.Errorf("connection refused"), ErrCodeDatabaseConnection, "Database connection failed"),
			expected: "[DATABASE_CONNECTION_FAILED] Database connection failed (cause: connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestEnhancedError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := NewGenerationError(cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, true, err.Metadata["retryable"])
}

func TestCodeOf(t *testing.T) {
	t.Run("direct enhanced error", func(t *testing.T) {
		assert.Equal(t, ErrCodeSecurityBlocked, CodeOf(NewSecurityBlockedError("NOT_SELECT")))
	})

	t.Run("wrapped enhanced error", func(t *testing.T) {
		err := fmt.Errorf("resolve: %w", NewUnknownNamespaceError("billing"))
		assert.Equal(t, ErrCodeUnknownNamespace, CodeOf(err))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
	})
}

func TestConstructors(t *testing.T) {
	t.Run("security blocked carries reason code", func(t *testing.T) {
		err := NewSecurityBlockedError("BLOCKED_KEYWORD:DROP")
		assert.Equal(t, "BLOCKED_KEYWORD:DROP", err.Metadata["reason_code"])
		assert.Contains(t, err.Details, "BLOCKED_KEYWORD:DROP")
	})

	t.Run("ambiguous namespace lists candidates", func(t *testing.T) {
		err := NewAmbiguousNamespaceError([]string{"checklist", "maintenance"})
		assert.Contains(t, err.Details, "checklist, maintenance")
	})

	t.Run("not authenticated points at the token endpoint", func(t *testing.T) {
		err := NewNotAuthenticatedError()
		require.NotEmpty(t, err.Suggestion)
		assert.Contains(t, err.Suggestion, "Authorization: Bearer")
	})
}
