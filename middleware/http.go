package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
)

// TokenValidator resolves a session token to its user.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*store.User, error)
}

// OwnerLookup resolves the owner of the resource a request addresses.
// Returning deskauth.ErrNotFound yields 404.
type OwnerLookup func(r *http.Request) (ownerID string, err error)

// Guard is a composable HTTP middleware.
type Guard = func(http.Handler) http.Handler

// Authenticate creates a guard that requires a valid session token and
// attaches its user to the request context.
func Authenticate(validator TokenValidator, cfg *Config) Guard {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ShouldSkip(r, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			token := cfg.TokenExtractor(r)
			if token == "" {
				cfg.ErrorHandler(w, r, fmt.Errorf("%w: missing bearer token", deskauth.ErrUnauthorized))
				return
			}

			user, err := validator.Validate(r.Context(), token)
			if err != nil {
				cfg.ErrorHandler(w, r, unauthorized(err))
				return
			}

			ctx := SetUser(r.Context(), user)
			ctx = SetToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthenticate attaches the user when a valid token is present and
// lets every request through.
func OptionalAuthenticate(validator TokenValidator, cfg *Config) Guard {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := cfg.TokenExtractor(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := validator.Validate(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := SetUser(r.Context(), user)
			ctx = SetToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole creates a guard that admits only users holding one of roles.
func RequireRole(roles ...string) Guard {
	return RequireRoleWith(nil, roles...)
}

// RequireRoleWith is RequireRole with a custom configuration.
func RequireRoleWith(cfg *Config, roles ...string) Guard {
	cfg = cfg.withDefaults()
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				cfg.ErrorHandler(w, r, deskauth.ErrUnauthorized)
				return
			}

			if _, ok := allowed[user.Role]; !ok {
				cfg.ErrorHandler(w, r, fmt.Errorf("%w: role %q is not permitted", deskauth.ErrForbidden, user.Role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner creates a guard that admits only the owner of the addressed
// resource. Admins are always admitted.
func RequireOwner(lookup OwnerLookup) Guard {
	return RequireOwnerWith(nil, lookup)
}

// RequireOwnerWith is RequireOwner with a custom configuration.
func RequireOwnerWith(cfg *Config, lookup OwnerLookup) Guard {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				cfg.ErrorHandler(w, r, deskauth.ErrUnauthorized)
				return
			}

			if user.Role == deskauth.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			ownerID, err := lookup(r)
			if err != nil {
				if !errors.Is(err, deskauth.ErrNotFound) {
					// Detach the chain so any other failure reports as internal.
					err = fmt.Errorf("owner lookup: %v", err)
				}
				cfg.ErrorHandler(w, r, err)
				return
			}

			if ownerID == "" || ownerID != user.ID {
				cfg.ErrorHandler(w, r, fmt.Errorf("%w: not the resource owner", deskauth.ErrForbidden))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Chain composes guards so that the first one runs outermost.
func Chain(guards ...Guard) Guard {
	return func(next http.Handler) http.Handler {
		for i := len(guards) - 1; i >= 0; i-- {
			next = guards[i](next)
		}
		return next
	}
}

// unauthorized folds token lifecycle failures into ErrUnauthorized while
// keeping store failures distinct.
func unauthorized(err error) error {
	if deskauth.IsTokenError(err) || errors.Is(err, deskauth.ErrNotFound) {
		return fmt.Errorf("%w: %v", deskauth.ErrUnauthorized, err)
	}
	return err
}
