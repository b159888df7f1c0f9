// Package token issues, validates and consumes opaque session and exchange
// tokens. Raw token values are returned to the caller once and stored only
// as their SHA256 hash.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/internal/crypto"
	"github.com/aloks98/deskauth/internal/hash"
	"github.com/aloks98/deskauth/store"
)

// Config holds configuration for the token service.
type Config struct {
	// SessionTTL is the session token lifetime.
	SessionTTL time.Duration

	// ExchangeTTL is the exchange token lifetime.
	ExchangeTTL time.Duration

	// TokenBytes is the entropy of each token. Defaults to 32.
	TokenBytes int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Service handles token generation, validation and consumption.
type Service struct {
	config *Config
	tokens store.TokenStore
	users  store.CredentialStore
}

// NewService creates a new token service.
func NewService(cfg *Config, tokens store.TokenStore, users store.CredentialStore) *Service {
	c := *cfg
	if c.SessionTTL <= 0 {
		c.SessionTTL = deskauth.DefaultSessionTTL
	}
	if c.ExchangeTTL <= 0 {
		c.ExchangeTTL = deskauth.DefaultExchangeTTL
	}
	if c.TokenBytes < crypto.MinTokenBytes {
		c.TokenBytes = crypto.DefaultTokenBytes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Service{config: &c, tokens: tokens, users: users}
}

// ExchangeTTL returns the configured exchange token lifetime.
func (s *Service) ExchangeTTL() time.Duration {
	return s.config.ExchangeTTL
}

// Issue creates and stores a token for an existing user. The returned token
// carries the raw Value; it is not retrievable afterwards.
func (s *Service) Issue(ctx context.Context, userID string, scope store.Scope, ttl time.Duration) (*store.Token, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown token scope %q", deskauth.ErrInvalidInput, scope)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token TTL must be positive", deskauth.ErrInvalidInput)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", deskauth.ErrNotFound, userID)
	}

	raw, err := crypto.GenerateToken(s.config.TokenBytes)
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	tok := &store.Token{
		Value:     raw,
		Hash:      hash.SHA256(raw),
		UserID:    userID,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.tokens.SaveToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	return tok, nil
}

// IssueSession creates a session token with the configured TTL.
func (s *Service) IssueSession(ctx context.Context, userID string) (*store.Token, error) {
	return s.Issue(ctx, userID, store.ScopeSession, s.config.SessionTTL)
}

// IssueExchange creates a single-use exchange token with the configured TTL.
func (s *Service) IssueExchange(ctx context.Context, userID string) (*store.Token, error) {
	return s.Issue(ctx, userID, store.ScopeExchange, s.config.ExchangeTTL)
}

// Validate resolves a session token to its user. It never mutates state.
// Unknown, malformed and non-session tokens fail with deskauth.ErrTokenInvalid;
// expired ones with deskauth.ErrTokenExpired.
func (s *Service) Validate(ctx context.Context, value string) (*store.User, error) {
	_, user, err := s.ValidateSession(ctx, value)
	return user, err
}

// ValidateSession is Validate that also returns the stored token record.
func (s *Service) ValidateSession(ctx context.Context, value string) (*store.Token, *store.User, error) {
	if !crypto.IsWellFormedToken(value) {
		return nil, nil, deskauth.ErrTokenInvalid
	}

	tok, err := s.tokens.GetToken(ctx, hash.SHA256(value))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	if tok == nil || tok.Scope != store.ScopeSession {
		return nil, nil, deskauth.ErrTokenInvalid
	}
	if tok.IsExpired(s.config.Now()) {
		return nil, nil, deskauth.ErrTokenExpired
	}

	user, err := s.users.GetUserByID(ctx, tok.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	if user == nil {
		return nil, nil, deskauth.ErrTokenInvalid
	}
	return tok, user, nil
}

// Consume redeems a single-use exchange token. Exactly one caller succeeds;
// later calls fail with deskauth.ErrTokenConsumed until the token expires,
// after which they fail with deskauth.ErrTokenExpired.
func (s *Service) Consume(ctx context.Context, value string) (*store.Token, error) {
	if !crypto.IsWellFormedToken(value) {
		return nil, deskauth.ErrTokenInvalid
	}

	tok, err := s.tokens.ConsumeToken(ctx, hash.SHA256(value), s.config.Now())
	if err != nil {
		if deskauth.IsTokenError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	return tok, nil
}

// Revoke deletes a session token. Revoking an unknown token succeeds.
func (s *Service) Revoke(ctx context.Context, value string) error {
	if !crypto.IsWellFormedToken(value) {
		return deskauth.ErrTokenInvalid
	}
	if err := s.tokens.DeleteToken(ctx, hash.SHA256(value)); err != nil {
		return fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	return nil
}
