package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewInvalidInputError("question", "empty"), http.StatusBadRequest},
		{NewSecurityBlockedError("NOT_SELECT"), http.StatusBadRequest},
		{NewAmbiguousNamespaceError([]string{"a", "b"}), http.StatusBadRequest},
		{NewNotAuthenticatedError(), http.StatusUnauthorized},
		{NewInvalidCredentialsError(), http.StatusUnauthorized},
		{NewNamespaceForbiddenError("maintenance"), http.StatusForbidden},
		{NewUnknownNamespaceError("payroll"), http.StatusNotFound},
		{NewSessionNotFoundError("s-1"), http.StatusNotFound},
		{New(ErrCodeRequestCancelled, "Request cancelled"), http.StatusConflict},
		{NewRateLimitedError(10), http.StatusTooManyRequests},
		{NewGenerationError(stderrors.New("overloaded")), http.StatusBadGateway},
		{NewDatabaseConnectionError(stderrors.New("refused")), http.StatusServiceUnavailable},
		{NewTokenCreationError(stderrors.New("sign")), http.StatusInternalServerError},
		{stderrors.New("plain"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", NewUnknownNamespaceError("x")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestResponse(t *testing.T) {
	t.Run("enhanced error", func(t *testing.T) {
		body := Response(NewUnknownNamespaceError("payroll"))
		inner, ok := body["error"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, ErrCodeUnknownNamespace, inner["code"])
		assert.Equal(t, "Unknown namespace", inner["message"])
		assert.Contains(t, inner["details"], "payroll")
		assert.NotEmpty(t, inner["suggestion"])
		assert.NotContains(t, inner, "cause")
		assert.Equal(t, "payroll", inner["metadata"].(map[string]interface{})["namespace"])
	})

	t.Run("plain error", func(t *testing.T) {
		body := Response(stderrors.New("boom"))
		inner := body["error"].(map[string]any)
		assert.Equal(t, "INTERNAL_ERROR", inner["code"])
		assert.Equal(t, "boom", inner["message"])
	})
}
