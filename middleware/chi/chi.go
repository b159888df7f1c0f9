// Package chi adapts the access middleware to chi routers. Chi uses
// standard net/http middleware, so this package only adds helpers that read
// chi's route context.
package chi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/middleware"
	"github.com/aloks98/deskauth/store"
)

// OwnerResolver returns the id of the user owning the resource id.
// It returns an error wrapping deskauth.ErrNotFound when there is no such
// resource.
type OwnerResolver func(ctx context.Context, id string) (string, error)

// OwnerFromURLParam builds an OwnerLookup that reads the resource id from
// the chi URL parameter param. An empty parameter is reported as not found.
func OwnerFromURLParam(param string, resolve OwnerResolver) middleware.OwnerLookup {
	return func(r *http.Request) (string, error) {
		id := chi.URLParam(r, param)
		if id == "" {
			return "", fmt.Errorf("%w: missing %s", deskauth.ErrNotFound, param)
		}
		return resolve(r.Context(), id)
	}
}

// RequireOwnerOf guards a route whose URL parameter param names a resource
// owned by a user. It must run after Authenticate.
func RequireOwnerOf(param string, resolve OwnerResolver) middleware.Guard {
	return middleware.RequireOwner(OwnerFromURLParam(param, resolve))
}

// User retrieves the authenticated user from the request context.
func User(r *http.Request) *store.User {
	return middleware.GetUser(r.Context())
}

// Token retrieves the bearer token from the request context.
func Token(r *http.Request) string {
	return middleware.GetToken(r.Context())
}

// URLParam returns a URL parameter from chi's route context.
func URLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
