// Package middleware provides the access guards for protected routes:
// bearer authentication, role checks and ownership checks.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aloks98/deskauth/store"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// UserKey is the context key for the authenticated user.
	UserKey contextKey = "deskauth_user"
	// TokenKey is the context key for the raw session token.
	TokenKey contextKey = "deskauth_token"
)

// TokenExtractor extracts a token from an HTTP request.
type TokenExtractor func(r *http.Request) string

// ErrorHandler handles guard failures.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Config holds middleware configuration.
type Config struct {
	// TokenExtractor extracts the token from the request.
	// Defaults to extracting from the Authorization header.
	TokenExtractor TokenExtractor

	// ErrorHandler writes guard failures.
	// Defaults to the JSON envelope.
	ErrorHandler ErrorHandler

	// SkipPaths are paths that skip authentication.
	SkipPaths []string
}

// DefaultConfig returns a default middleware configuration.
func DefaultConfig() *Config {
	return &Config{
		TokenExtractor: ExtractFromHeader("Authorization", "Bearer"),
		ErrorHandler:   DefaultErrorHandler,
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.TokenExtractor == nil {
		out.TokenExtractor = ExtractFromHeader("Authorization", "Bearer")
	}
	if out.ErrorHandler == nil {
		out.ErrorHandler = DefaultErrorHandler
	}
	return &out
}

// ExtractFromHeader creates a TokenExtractor that extracts from a header.
func ExtractFromHeader(header, scheme string) TokenExtractor {
	return func(r *http.Request) string {
		auth := r.Header.Get(header)
		if auth == "" {
			return ""
		}

		if scheme != "" {
			prefix := scheme + " "
			if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
				return strings.TrimSpace(auth[len(prefix):])
			}
			return ""
		}

		return auth
	}
}

// ExtractFromQuery creates a TokenExtractor that extracts from a query parameter.
func ExtractFromQuery(param string) TokenExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}

// ExtractFromCookie creates a TokenExtractor that extracts from a cookie.
func ExtractFromCookie(name string) TokenExtractor {
	return func(r *http.Request) string {
		cookie, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return cookie.Value
	}
}

// ChainExtractors chains multiple extractors, returning the first non-empty result.
func ChainExtractors(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) string {
		for _, extractor := range extractors {
			if token := extractor(r); token != "" {
				return token
			}
		}
		return ""
	}
}

// ShouldSkip checks if the request path should skip authentication.
func ShouldSkip(r *http.Request, skipPaths []string) bool {
	path := r.URL.Path
	for _, skip := range skipPaths {
		if matchPath(skip, path) {
			return true
		}
	}
	return false
}

// matchPath checks if a path matches a pattern.
// Supports * as a wildcard for path segments.
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(path, pattern[:len(pattern)-1])
	}

	if strings.Contains(pattern, "*") {
		patternParts := strings.Split(pattern, "/")
		pathParts := strings.Split(path, "/")

		if len(patternParts) != len(pathParts) {
			return false
		}

		for i, part := range patternParts {
			if part != "*" && part != pathParts[i] {
				return false
			}
		}
		return true
	}

	return false
}

// SetUser stores the authenticated user in the context.
func SetUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the authenticated user from the context.
func GetUser(ctx context.Context) *store.User {
	if u, ok := ctx.Value(UserKey).(*store.User); ok {
		return u
	}
	return nil
}

// SetToken stores the raw session token in the context.
func SetToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// GetToken retrieves the raw session token from the context.
func GetToken(ctx context.Context) string {
	if s, ok := ctx.Value(TokenKey).(string); ok {
		return s
	}
	return ""
}
