package errors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput, ErrCodeMissingRequired, ErrCodeSecurityBlocked,
		ErrCodeValidationRejected, ErrCodeAmbiguousNamespace:
		return http.StatusBadRequest
	case ErrCodeInvalidCredentials, ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case ErrCodeNamespaceForbidden:
		return http.StatusForbidden
	case ErrCodeUnknownNamespace, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeRequestCancelled:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeGenerationFailed, ErrCodeExecutionFailed:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnection, ErrCodeCacheService, ErrCodeContextStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response builds the JSON error envelope {"error": {...}}.
func Response(err error) map[string]any {
	var enhanced *EnhancedError
	if !errors.As(err, &enhanced) {
		return map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		}
	}

	body := map[string]any{
		"code":    enhanced.Code,
		"message": enhanced.Message,
	}
	if enhanced.Details != "" {
		body["details"] = enhanced.Details
	}
	if enhanced.Suggestion != "" {
		body["suggestion"] = enhanced.Suggestion
	}
	if len(enhanced.Metadata) > 0 {
		body["metadata"] = enhanced.Metadata
	}
	return map[string]any{"error": body}
}
