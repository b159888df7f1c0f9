// Package store defines the storage contracts for deskauth.
package store

import (
	"context"
	"time"
)

// CredentialStore holds user records. It exclusively owns them.
// All methods should be safe for concurrent use.
type CredentialStore interface {
	// CreateUser persists a new user. The email uniqueness check and the
	// insert are atomic: under concurrent calls with the same email exactly
	// one succeeds and the others fail with deskauth.ErrAlreadyExists.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByEmail retrieves a user by email, case-insensitively.
	// Returns nil if no user has that email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByID retrieves a user by ID.
	// Returns nil if the user does not exist.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// SetUserRole changes a user's role.
	// Returns deskauth.ErrNotFound if the user does not exist.
	SetUserRole(ctx context.Context, id string, role string) error
}

// TokenStore holds issued tokens, keyed by the hash of their value.
// It exclusively owns them. All methods should be safe for concurrent use.
type TokenStore interface {
	// SaveToken persists a newly issued token.
	SaveToken(ctx context.Context, token *Token) error

	// GetToken retrieves a token by hash without modifying it.
	// Returns nil if the token does not exist.
	GetToken(ctx context.Context, hash string) (*Token, error)

	// ConsumeToken atomically checks and marks a single-use token as
	// consumed. It fails with deskauth.ErrTokenInvalid when the token is
	// unknown or not single-use, deskauth.ErrTokenExpired when now is past
	// its expiry, and deskauth.ErrTokenConsumed when it was already used.
	ConsumeToken(ctx context.Context, hash string, now time.Time) (*Token, error)

	// DeleteToken removes a token. Deleting an unknown token is not an error.
	DeleteToken(ctx context.Context, hash string) error

	// DeleteExpiredTokens removes tokens that expired before the cutoff.
	// Returns the number of tokens deleted.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// Store is a backend holding both users and tokens.
type Store interface {
	CredentialStore
	TokenStore

	// Close releases any resources held by the store.
	Close() error

	// Ping verifies the store connection is alive.
	Ping(ctx context.Context) error
}
