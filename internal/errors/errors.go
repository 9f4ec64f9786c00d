// Package errors provides enhanced error types with stable codes and user-facing hints
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique, stable error identifier returned to callers
type ErrorCode string

const (
	// Pipeline outcomes
	ErrCodeSecurityBlocked    ErrorCode = "SECURITY_BLOCKED"
	ErrCodeValidationRejected ErrorCode = "VALIDATION_REJECTED"
	ErrCodeExecutionFailed    ErrorCode = "EXECUTION_FAILED"
	ErrCodeGenerationFailed   ErrorCode = "GENERATION_FAILED"
	ErrCodeCacheService       ErrorCode = "CACHE_SERVICE_FAILED"
	ErrCodeContextStore       ErrorCode = "CONTEXT_STORE_FAILED"
	ErrCodeRequestCancelled   ErrorCode = "REQUEST_CANCELLED"

	// Routing errors
	ErrCodeUnknownNamespace   ErrorCode = "UNKNOWN_NAMESPACE"
	ErrCodeAmbiguousNamespace ErrorCode = "AMBIGUOUS_NAMESPACE"
	ErrCodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeNamespaceForbidden ErrorCode = "NAMESPACE_FORBIDDEN"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the first EnhancedError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var enhanced *EnhancedError
	if errors.As(err, &enhanced) {
		return enhanced.Code
	}
	return ""
}

// Common error constructors with pre-configured messages

// NewSecurityBlockedError creates an error for SQL rejected by the security validator
func NewSecurityBlockedError(reasonCode string) *EnhancedError {
	return New(ErrCodeSecurityBlocked, "Query blocked by security policy").
		WithDetails(fmt.Sprintf("The generated SQL was rejected: %s", reasonCode)).
		WithSuggestion("Only single read-only SELECT statements are allowed. Rephrase the question as a request to look up or summarize data.").
		WithMetadata("reason_code", reasonCode)
}

// NewValidationRejectedError creates an error for candidates that never passed review
func NewValidationRejectedError(attempts int, feedback string) *EnhancedError {
	return New(ErrCodeValidationRejected, "Generated SQL did not pass schema review").
		WithDetails(fmt.Sprintf("No candidate was approved after %d attempt(s)", attempts)).
		WithSuggestion("Try rephrasing the question with the table or column names you are interested in.").
		WithMetadata("attempts", attempts).
		WithMetadata("last_feedback", feedback)
}

// NewExecutionError creates an error for statements the database refused
func NewExecutionError(err error, fromCache bool) *EnhancedError {
	return Wrap(err, ErrCodeExecutionFailed, "Query execution failed").
		WithDetails("The database could not execute the generated SQL").
		WithSuggestion("Try the question again. If it keeps failing, rephrase it more specifically.").
		WithMetadata("from_cache", fromCache)
}

// NewGenerationError creates an error for model service failures
func NewGenerationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeGenerationFailed, "Failed to generate SQL").
		WithDetails("The language model service did not respond").
		WithSuggestion("This is typically a temporary issue. Please try your question again in a moment.").
		WithMetadata("retryable", true)
}

// NewCacheServiceError creates an error for similarity store failures
func NewCacheServiceError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeCacheService, "Query cache unavailable").
		WithDetails(fmt.Sprintf("Cache operation failed: %s", operation))
}

// NewContextStoreError creates an error for conversation context backend failures
func NewContextStoreError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeContextStore, "Conversation context unavailable").
		WithDetails(fmt.Sprintf("Context operation failed: %s", operation))
}

// NewSessionNotFoundError creates an error for sessions without stored context
func NewSessionNotFoundError(sessionID string) *EnhancedError {
	return New(ErrCodeSessionNotFound, "No context stored for session").
		WithDetails(fmt.Sprintf("Session %s has no conversation context", sessionID)).
		WithMetadata("session_id", sessionID)
}

// NewUnknownNamespaceError creates an error for namespaces without a schema policy
func NewUnknownNamespaceError(namespace string) *EnhancedError {
	return New(ErrCodeUnknownNamespace, "Unknown namespace").
		WithDetails(fmt.Sprintf("No schema policy is registered for namespace: %s", namespace)).
		WithSuggestion("Use GET /api/v1/policies to list the available namespaces.").
		WithMetadata("namespace", namespace)
}

// NewAmbiguousNamespaceError creates an error when a question matches several namespaces equally
func NewAmbiguousNamespaceError(candidates []string) *EnhancedError {
	return New(ErrCodeAmbiguousNamespace, "Question matches more than one database").
		WithDetails(fmt.Sprintf("Candidate namespaces: %s", strings.Join(candidates, ", "))).
		WithSuggestion("Pass an explicit namespace or mention the table you mean.").
		WithMetadata("candidates", candidates)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid client id or secret").
		WithDetails("Authentication failed with the provided credentials").
		WithSuggestion("Check the client id and secret and try again.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create authentication token").
		WithDetails("The system was unable to generate an authentication token").
		WithSuggestion("This is an internal server error. Please try again.").
		WithMetadata("retryable", true)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Obtain a token from /api/v1/auth/token and send it in the 'Authorization: Bearer' header.")
}

// NewNamespaceForbiddenError creates an error for clients querying outside their scope
func NewNamespaceForbiddenError(namespace string) *EnhancedError {
	return New(ErrCodeNamespaceForbidden, "Namespace not permitted").
		WithDetails(fmt.Sprintf("This client may not query namespace: %s", namespace)).
		WithMetadata("namespace", namespace)
}

// NewRateLimitedError creates an error for clients over their request budget
func NewRateLimitedError(limit int) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("At most %d requests per minute are allowed", limit)).
		WithSuggestion("Wait a moment before sending more questions.")
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the database").
		WithSuggestion("The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("retryable", true)
}
