// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Template resolution errors
	ErrCodeTemplateResolution ErrorCode = "TEMPLATE_RESOLUTION_FAILED"
	ErrCodeInvalidTimeRange   ErrorCode = "INVALID_TIME_RANGE"
	ErrCodeQueryTooLong       ErrorCode = "QUERY_TOO_LONG"
	ErrCodeUnsafeQuery        ErrorCode = "UNSAFE_QUERY"

	// Upstream Log Analytics errors
	ErrCodeUpstreamQuery       ErrorCode = "UPSTREAM_QUERY_FAILED"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeWorkspaceRequired   ErrorCode = "WORKSPACE_REQUIRED"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeSessionCreation    ErrorCode = "SESSION_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"

	// Cache errors
	ErrCodeCacheRead  ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite ErrorCode = "CACHE_WRITE_FAILED"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
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

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}
	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}

	return sb.String()
}

// IsRetryable reports whether the error was marked retryable
func (e *EnhancedError) IsRetryable() bool {
	retryable, _ := e.Metadata["retryable"].(bool)
	return retryable
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

// WithDocumentation adds a documentation link
func (e *EnhancedError) WithDocumentation(url string) *EnhancedError {
	e.Documentation = url
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

// As returns err as an EnhancedError if it is one somewhere in the chain
func As(err error) (*EnhancedError, bool) {
	for err != nil {
		if enhanced, ok := err.(*EnhancedError); ok {
			return enhanced, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Common error constructors with pre-configured messages

// NewInvalidTimeRangeError creates an error for unparseable or inverted time ranges
func NewInvalidTimeRangeError(err error, from, to string) *EnhancedError {
	return Wrap(err, ErrCodeInvalidTimeRange, "Invalid time range").
		WithDetails(fmt.Sprintf("Could not build a time range from '%s' to '%s'", from, to)).
		WithSuggestion("Use relative expressions such as 'now-24h' and 'now', RFC3339 timestamps, or epoch milliseconds. The start must not be after the end.").
		WithMetadata("from", from).
		WithMetadata("to", to)
}

// NewQueryTooLongError creates an error for templates over the configured length
func NewQueryTooLongError(length, maxAllowed int) *EnhancedError {
	return New(ErrCodeQueryTooLong, "Query template is too long").
		WithDetails(fmt.Sprintf("The template is %d characters, the maximum is %d", length, maxAllowed)).
		WithSuggestion("Split the query or move repeated expressions into a let statement or stored function.").
		WithMetadata("length", length).
		WithMetadata("max_length", maxAllowed)
}

// NewUnsafeQueryError creates an error for templates containing blocked commands
func NewUnsafeQueryError(command string) *EnhancedError {
	return New(ErrCodeUnsafeQuery, "Query contains a blocked command").
		WithDetails(fmt.Sprintf("The template uses '%s', which is not allowed through this service", command)).
		WithSuggestion("Only read queries can be executed. Management commands (those starting with '.') must be run with administrative tooling.").
		WithMetadata("command", command)
}

// NewWorkspaceRequiredError creates an error for execute calls without a workspace
func NewWorkspaceRequiredError() *EnhancedError {
	return New(ErrCodeWorkspaceRequired, "Workspace is required").
		WithDetails("No workspace was given in the request and no default workspace is configured").
		WithSuggestion("Pass 'workspace' in the request body or set LOG_ANALYTICS_WORKSPACE_ID.")
}

// NewUpstreamQueryError creates an error for queries rejected by Log Analytics
func NewUpstreamQueryError(err error, statusCode int) *EnhancedError {
	return Wrap(err, ErrCodeUpstreamQuery, "Log Analytics rejected the query").
		WithDetails("The resolved query was sent but the service returned an error").
		WithSuggestion("Check the resolved query with the /api/v1/resolve endpoint and verify table and column names.").
		WithMetadata("status_code", statusCode)
}

// NewUpstreamUnavailableError creates an error for transport failures or an open circuit
func NewUpstreamUnavailableError(err error) *EnhancedError {
	return Wrap(err, ErrCodeUpstreamUnavailable, "Log Analytics is unavailable").
		WithDetails("The query could not be delivered to the Log Analytics endpoint").
		WithSuggestion("This is typically a temporary issue. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid username or password").
		WithDetails("Authentication failed with the provided credentials").
		WithSuggestion("Please check your username and password and try again.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create authentication token").
		WithDetails("The system was unable to generate an authentication token").
		WithSuggestion("Please try logging in again. If the problem persists, contact support.").
		WithMetadata("retryable", true)
}

// NewSessionCreationError creates an error for session creation failures
func NewSessionCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeSessionCreation, "Failed to create session").
		WithDetails("The system was unable to create a session").
		WithSuggestion("Please try logging in again. If the problem persists, contact support.").
		WithMetadata("retryable", true)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Log in using the /api/v1/auth/login endpoint, or include a valid API key in the 'X-API-Key' header.")
}

// NewInsufficientPermissionsError creates an error for requests lacking a role
func NewInsufficientPermissionsError(roles []string) *EnhancedError {
	return New(ErrCodeInsufficientPerms, "Insufficient permissions").
		WithDetails(fmt.Sprintf("This endpoint requires one of the roles: %s", strings.Join(roles, ", "))).
		WithMetadata("required_roles", roles)
}

// NewRateLimitedError creates an error for clients over their request budget
func NewRateLimitedError(limitPerMinute int) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("Only %d requests per minute are allowed", limitPerMinute)).
		WithSuggestion("Wait a moment before sending more requests.").
		WithMetadata("retryable", true)
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

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database query failed").
		WithDetails(fmt.Sprintf("Failed to execute database operation: %s", operation)).
		WithSuggestion("If the problem persists, contact support.").
		WithMetadata("retryable", true)
}
