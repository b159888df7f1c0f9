package deskauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients in the "error" field of the JSON envelope.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeOAuthFailed        = "OAUTH_FAILED"
	CodeUnknownClient      = "UNKNOWN_CLIENT"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenConsumed      = "TOKEN_ALREADY_CONSUMED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeInternal           = "INTERNAL"
)

// Sentinel errors for use with errors.Is().
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOAuthFailed        = errors.New("oauth identity could not be established")

	// Handoff errors
	ErrUnknownClient = errors.New("unknown desktop client")

	// Token lifecycle errors
	ErrTokenInvalid  = errors.New("token is invalid")
	ErrTokenExpired  = errors.New("token has expired")
	ErrTokenConsumed = errors.New("token has already been consumed")

	// Access errors
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("access denied")

	// Routing errors
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrNotFound         = errors.New("not found")

	// Rate limit errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Store errors
	ErrStoreUnavailable = errors.New("store is unavailable")

	// Config errors
	ErrConfigInvalid = errors.New("configuration is invalid")
)

// AuthError is a structured error type that includes an error code and optional wrapped error.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError with the given code, message, and optional wrapped error.
func NewAuthError(code, message string, err error) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// kinds maps each sentinel onto its code and HTTP status. Order matters only
// for errors that wrap more than one sentinel; the first match wins.
var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrInvalidCredentials, CodeInvalidCredentials, http.StatusUnauthorized},
	{ErrAlreadyExists, CodeAlreadyExists, http.StatusConflict},
	{ErrInvalidInput, CodeInvalidInput, http.StatusBadRequest},
	{ErrOAuthFailed, CodeOAuthFailed, http.StatusBadGateway},
	{ErrUnknownClient, CodeUnknownClient, http.StatusBadRequest},
	{ErrTokenInvalid, CodeTokenInvalid, http.StatusUnauthorized},
	{ErrTokenExpired, CodeTokenExpired, http.StatusUnauthorized},
	{ErrTokenConsumed, CodeTokenConsumed, http.StatusConflict},
	{ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, CodeForbidden, http.StatusForbidden},
	{ErrMethodNotAllowed, CodeMethodNotAllowed, http.StatusMethodNotAllowed},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrRateLimitExceeded, CodeRateLimitExceeded, http.StatusTooManyRequests},
	{ErrConfigInvalid, CodeConfigInvalid, http.StatusInternalServerError},
}

// Code returns the machine-readable code for err. An AuthError carries its
// own code; anything outside the taxonomy is reported as CodeInternal.
func Code(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeInternal
}

// HTTPStatus returns the HTTP status code matching the kind of err.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage returns a message that is safe to show to clients. Server
// side failures never expose their text.
func PublicMessage(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	if IsPublicError(err) {
		return err.Error()
	}
	return "internal server error"
}

// IsPublicError reports whether err's text may be shown to clients: client
// errors, and OAuth failures, whose messages only describe the assertion.
func IsPublicError(err error) bool {
	return IsClientError(err) || Code(err) == CodeOAuthFailed
}

// IsTokenError returns true if the error is a token lifecycle error.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenConsumed)
}

// IsClientError returns true if the error maps to a 4xx status.
func IsClientError(err error) bool {
	status := HTTPStatus(err)
	return status >= 400 && status < 500
}
