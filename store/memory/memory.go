// Package memory provides an in-memory store implementation.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
)

// Store is an in-memory implementation of the store.Store interface.
// Users and tokens are guarded by separate locks; every mutation on either
// side is serialized by its lock.
type Store struct {
	usersMu sync.RWMutex
	users   map[string]*store.User // by ID
	byEmail map[string]string      // normalized email -> ID

	tokensMu sync.RWMutex
	tokens   map[string]*store.Token // by hash

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		users:   make(map[string]*store.User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]*store.Token),
	}
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is available.
func (s *Store) Ping(ctx context.Context) error {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	if s.closed {
		return deskauth.ErrStoreUnavailable
	}
	return nil
}

// CreateUser saves a new user if its email is not taken.
func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	email := store.NormalizeEmail(user.Email)

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return deskauth.ErrAlreadyExists
	}
	if _, ok := s.users[user.ID]; ok {
		return deskauth.ErrAlreadyExists
	}

	u := *user
	u.Email = email
	s.users[u.ID] = &u
	s.byEmail[email] = u.ID
	return nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	id, ok := s.byEmail[store.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return copyUser(s.users[id]), nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return copyUser(s.users[id]), nil
}

// SetUserRole changes a user's role.
func (s *Store) SetUserRole(ctx context.Context, id string, role string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return deskauth.ErrNotFound
	}
	u.Role = role
	return nil
}

// SaveToken saves a token.
func (s *Store) SaveToken(ctx context.Context, token *store.Token) error {
	t := *token
	t.Value = ""

	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	s.tokens[t.Hash] = &t
	return nil
}

// GetToken retrieves a token by hash.
func (s *Store) GetToken(ctx context.Context, hash string) (*store.Token, error) {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	return copyToken(s.tokens[hash]), nil
}

// ConsumeToken marks an exchange token as consumed.
func (s *Store) ConsumeToken(ctx context.Context, hash string, now time.Time) (*store.Token, error) {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	t, ok := s.tokens[hash]
	if !ok || t.Scope != store.ScopeExchange {
		return nil, deskauth.ErrTokenInvalid
	}
	if t.IsExpired(now) {
		return nil, deskauth.ErrTokenExpired
	}
	if t.IsConsumed() {
		return nil, deskauth.ErrTokenConsumed
	}

	consumedAt := now
	t.ConsumedAt = &consumedAt
	return copyToken(t), nil
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(ctx context.Context, hash string) error {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	delete(s.tokens, hash)
	return nil
}

// DeleteExpiredTokens removes tokens that expired before the cutoff.
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	var count int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			count++
		}
	}
	return count, nil
}

func copyUser(u *store.User) *store.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func copyToken(t *store.Token) *store.Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
