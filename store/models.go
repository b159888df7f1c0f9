package store

import (
	"strings"
	"time"
)

// Scope distinguishes durable session tokens from single-use exchange tokens.
type Scope string

const (
	// ScopeSession is a bearer credential for API calls.
	ScopeSession Scope = "session"

	// ScopeExchange is a short-lived, single-use token carried in a desktop
	// redirect URI and redeemed once for a session token.
	ScopeExchange Scope = "exchange"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeSession || s == ScopeExchange
}

// User represents a stored account.
type User struct {
	// ID is the unique, server-generated identifier.
	ID string `json:"id"`

	// Email is unique and stored normalized (see NormalizeEmail).
	Email string `json:"email"`

	// Name is an optional display name.
	Name string `json:"name,omitempty"`

	// PasswordHash is the encoded password hash.
	// Empty for accounts created through OAuth.
	PasswordHash string `json:"password_hash,omitempty"`

	// Role is one of the closed set of roles ("member", "admin").
	Role string `json:"role"`

	// Provider is the OAuth provider that created the account, if any.
	Provider string `json:"provider,omitempty"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
}

// HasPassword returns true if the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Public returns the client-facing view of the user, without credentials.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// PublicUser is the part of a User that may be sent to clients.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Token represents an issued bearer or exchange token.
type Token struct {
	// Value is the raw token. It is only set on a freshly issued token
	// and is never persisted.
	Value string `json:"-"`

	// Hash is the SHA256 hash of the token value.
	// The raw token is never stored.
	Hash string `json:"hash"`

	// UserID is the user this token belongs to.
	UserID string `json:"user_id"`

	// Scope is session or exchange.
	Scope Scope `json:"scope"`

	// IssuedAt is when the token was created.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresAt is when the token expires.
	ExpiresAt time.Time `json:"expires_at"`

	// ConsumedAt is when an exchange token was redeemed (nil if unused).
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// IsExpired returns true if the token has expired at now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsConsumed returns true if the token has been redeemed.
func (t *Token) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// NormalizeEmail returns the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
