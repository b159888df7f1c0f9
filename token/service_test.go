package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/internal/hash"
	"github.com/aloks98/deskauth/store"
	"github.com/aloks98/deskauth/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *clock) {
	t.Helper()

	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateUser(context.Background(), &store.User{
		ID:    "user-1",
		Email: "a@x.com",
		Role:  deskauth.RoleMember,
	}))

	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(&Config{
		SessionTTL:  time.Hour,
		ExchangeTTL: time.Minute,
		Now:         clk.Now,
	}, s, s)
	return svc, s, clk
}

func TestNewService_Defaults(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := NewService(&Config{}, s, s)

	assert.Equal(t, deskauth.DefaultSessionTTL, svc.config.SessionTTL)
	assert.Equal(t, deskauth.DefaultExchangeTTL, svc.ExchangeTTL())
	assert.Equal(t, 32, svc.config.TokenBytes)
	assert.NotNil(t, svc.config.Now)
}

func TestIssue(t *testing.T) {
	t.Parallel()

	svc, s, clk := newTestService(t)
	ctx := context.Background()

	tok, err := svc.IssueSession(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)
	assert.Equal(t, hash.SHA256(tok.Value), tok.Hash)
	assert.Equal(t, store.ScopeSession, tok.Scope)
	assert.Equal(t, clk.Now(), tok.IssuedAt)
	assert.Equal(t, clk.Now().Add(time.Hour), tok.ExpiresAt)

	stored, err := s.GetToken(ctx, tok.Hash)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Empty(t, stored.Value, "raw value must not be stored")

	other, err := svc.IssueSession(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, tok.Value, other.Value)
}

func TestIssue_Errors(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "missing", store.ScopeSession, time.Hour)
	require.ErrorIs(t, err, deskauth.ErrNotFound)

	_, err = svc.Issue(ctx, "user-1", "refresh", time.Hour)
	require.ErrorIs(t, err, deskauth.ErrInvalidInput)

	_, err = svc.Issue(ctx, "user-1", store.ScopeSession, 0)
	require.ErrorIs(t, err, deskauth.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	svc, _, clk := newTestService(t)
	ctx := context.Background()

	tok, err := svc.IssueSession(ctx, "user-1")
	require.NoError(t, err)

	user, err := svc.Validate(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	// Validation is a pure lookup; repeat calls keep succeeding.
	_, err = svc.Validate(ctx, tok.Value)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = svc.Validate(ctx, tok.Value)
	require.ErrorIs(t, err, deskauth.ErrTokenExpired)
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.IssueSession(ctx, "user-1")
	require.NoError(t, err)
	exchange, err := svc.IssueExchange(ctx, "user-1")
	require.NoError(t, err)

	tampered := []byte(session.Value)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"garbage", "not a token"},
		{"tampered", string(tampered)},
		{"unknown", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"exchange token used as session", exchange.Value},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(ctx, tt.value)
			require.ErrorIs(t, err, deskauth.ErrTokenInvalid)
		})
	}
}

func TestConsume_Lifecycle(t *testing.T) {
	t.Parallel()

	svc, _, clk := newTestService(t)
	ctx := context.Background()

	exchange, err := svc.IssueExchange(ctx, "user-1")
	require.NoError(t, err)

	got, err := svc.Consume(ctx, exchange.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	_, err = svc.Consume(ctx, exchange.Value)
	require.ErrorIs(t, err, deskauth.ErrTokenConsumed)

	clk.Advance(time.Minute)
	_, err = svc.Consume(ctx, exchange.Value)
	require.ErrorIs(t, err, deskauth.ErrTokenExpired)
}

func TestConsume_ExpiredBeforeUse(t *testing.T) {
	t.Parallel()

	svc, _, clk := newTestService(t)
	ctx := context.Background()

	exchange, err := svc.IssueExchange(ctx, "user-1")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = svc.Consume(ctx, exchange.Value)
	require.ErrorIs(t, err, deskauth.ErrTokenExpired)
}

func TestConsume_SessionTokenRejected(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.IssueSession(ctx, "user-1")
	require.NoError(t, err)

	_, err = svc.Consume(ctx, session.Value)
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)

	_, err = svc.Consume(ctx, "bogus")
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.IssueSession(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, session.Value))

	_, err = svc.Validate(ctx, session.Value)
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)

	// Revoking twice is fine.
	require.NoError(t, svc.Revoke(ctx, session.Value))
	require.ErrorIs(t, svc.Revoke(ctx, ""), deskauth.ErrTokenInvalid)
}
