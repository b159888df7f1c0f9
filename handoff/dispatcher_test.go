package handoff

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
	"github.com/aloks98/deskauth/store/memory"
	"github.com/aloks98/deskauth/token"
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

type fixture struct {
	dispatcher *Dispatcher
	tokens     *token.Service
	clock      *clock
	session    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "user-1", Email: "a@x.com", Role: deskauth.RoleMember}))

	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens := token.NewService(&token.Config{
		SessionTTL:  time.Hour,
		ExchangeTTL: 2 * time.Minute,
		Now:         clk.Now,
	}, s, s)

	session, err := tokens.IssueSession(ctx, "user-1")
	require.NoError(t, err)

	return &fixture{
		dispatcher: NewDispatcher(DefaultRegistry(), tokens, nil),
		tokens:     tokens,
		clock:      clk,
		session:    session.Value,
	}
}

func TestPrepareHandoff(t *testing.T) {
	t.Parallel()

	for _, client := range []string{"vscode", "cursor", "windsurf", "tera"} {
		client := client
		t.Run(client, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			h, err := f.dispatcher.PrepareHandoff(context.Background(), f.session, client)
			require.NoError(t, err)

			u, err := url.Parse(h.URI)
			require.NoError(t, err)
			assert.Equal(t, client, u.Scheme)
			assert.Equal(t, "auth", u.Host)
			assert.Equal(t, h.ExchangeToken, u.Query().Get("token"))

			assert.NotEqual(t, f.session, h.ExchangeToken)
			assert.NotContains(t, h.URI, f.session, "session token must not cross the URI boundary")
			assert.Equal(t, f.clock.Now().Add(2*time.Minute), h.ExpiresAt)
		})
	}
}

func TestPrepareHandoff_UnknownClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, id := range []string{"", "sublime", "http", "vscode://evil"} {
		h, err := f.dispatcher.PrepareHandoff(context.Background(), f.session, id)
		require.ErrorIs(t, err, deskauth.ErrUnknownClient)
		assert.Nil(t, h)
	}
}

func TestPrepareHandoff_InvalidSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.PrepareHandoff(ctx, "bogus", "vscode")
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)

	f.clock.Advance(time.Hour)
	_, err = f.dispatcher.PrepareHandoff(ctx, f.session, "vscode")
	require.ErrorIs(t, err, deskauth.ErrTokenExpired)
}

func TestPrepareHandoff_ExchangeTokenIsNotASession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	h, err := f.dispatcher.PrepareHandoff(ctx, f.session, "vscode")
	require.NoError(t, err)

	_, err = f.tokens.Validate(ctx, h.ExchangeToken)
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)

	// Nor can it seed another handoff.
	_, err = f.dispatcher.PrepareHandoff(ctx, h.ExchangeToken, "vscode")
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)
}

func TestRedeem_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	h, err := f.dispatcher.PrepareHandoff(ctx, f.session, "vscode")
	require.NoError(t, err)

	r, err := f.dispatcher.Redeem(ctx, h.ExchangeToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", r.User.ID)
	assert.Equal(t, store.ScopeSession, r.Token.Scope)
	assert.NotEqual(t, f.session, r.Token.Value)

	user, err := f.tokens.Validate(ctx, r.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	_, err = f.dispatcher.Redeem(ctx, h.ExchangeToken)
	require.ErrorIs(t, err, deskauth.ErrTokenConsumed)

	f.clock.Advance(2 * time.Minute)
	_, err = f.dispatcher.Redeem(ctx, h.ExchangeToken)
	require.ErrorIs(t, err, deskauth.ErrTokenExpired)
}

func TestRedeem_AfterTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	h, err := f.dispatcher.PrepareHandoff(ctx, f.session, "tera")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	_, err = f.dispatcher.Redeem(ctx, h.ExchangeToken)
	require.ErrorIs(t, err, deskauth.ErrTokenExpired)
}

func TestRedeem_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	h, err := f.dispatcher.PrepareHandoff(ctx, f.session, "windsurf")
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatcher.Redeem(ctx, h.ExchangeToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, deskauth.ErrTokenConsumed)
	}
	assert.Equal(t, 1, successes)
}

func TestRedeem_SessionTokenRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.dispatcher.Redeem(context.Background(), f.session)
	require.ErrorIs(t, err, deskauth.ErrTokenInvalid)
}

// failingSaves is a memory store whose SaveToken can be switched to fail.
type failingSaves struct {
	*memory.Store
	fail atomic.Bool
}

func (s *failingSaves) SaveToken(ctx context.Context, tok *store.Token) error {
	if s.fail.Load() {
		return errors.New("write refused")
	}
	return s.Store.SaveToken(ctx, tok)
}

func TestRedeem_LogsWhenSessionIssueFails(t *testing.T) {
	t.Parallel()

	s := &failingSaves{Store: memory.New()}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "user-7", Email: "g@x.com", Role: deskauth.RoleMember}))

	tokens := token.NewService(&token.Config{SessionTTL: time.Hour, ExchangeTTL: time.Minute}, s, s)
	core, logs := observer.New(zapcore.InfoLevel)
	d := NewDispatcher(DefaultRegistry(), tokens, zap.New(core))

	session, err := tokens.IssueSession(ctx, "user-7")
	require.NoError(t, err)
	h, err := d.PrepareHandoff(ctx, session.Value, "cursor")
	require.NoError(t, err)

	s.fail.Store(true)
	_, err = d.Redeem(ctx, h.ExchangeToken)
	require.Error(t, err)

	entries := logs.FilterMessage("exchange token consumed but no session issued").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "user-7", entries[0].ContextMap()["user_id"])

	// The exchange token is spent even though no session came back.
	s.fail.Store(false)
	_, err = d.Redeem(ctx, h.ExchangeToken)
	require.ErrorIs(t, err, deskauth.ErrTokenConsumed)
}
