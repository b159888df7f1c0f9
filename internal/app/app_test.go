package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aloks98/deskauth"
)

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("DESKAUTH_ADDR", "127.0.0.1:4000")
	t.Setenv("DESKAUTH_EXCHANGE_TTL", "90s")
	t.Setenv("DESKAUTH_RATE_LIMIT_ENABLED", "false")
	t.Setenv("DESKAUTH_API_RATE_LIMIT", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Addr)
	assert.Equal(t, 90*time.Second, cfg.ExchangeTTL)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, 2.5, cfg.APIRateLimit)

	// Untouched fields keep their defaults.
	assert.Equal(t, deskauth.DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, deskauth.BackendMemory, cfg.StoreBackend)
}

func TestLoadConfig_OptionsOverrideEnv(t *testing.T) {
	t.Setenv("DESKAUTH_ADDR", "127.0.0.1:4000")

	cfg, err := LoadConfig(deskauth.WithAddr(":5000"))
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("DESKAUTH_SESSION_TTL", "forever")
	_, err := LoadConfig()
	require.ErrorIs(t, err, deskauth.ErrConfigInvalid)

	t.Setenv("DESKAUTH_SESSION_TTL", "1h")
	t.Setenv("DESKAUTH_EXCHANGE_TTL", "1h")
	_, err = LoadConfig()
	require.ErrorIs(t, err, deskauth.ErrConfigInvalid)
}

func testConfig(opts ...deskauth.Option) *deskauth.Config {
	cfg := deskauth.NewConfig().Apply(
		deskauth.WithAddr("127.0.0.1:0"),
		deskauth.WithBcrypt(4),
	)
	return cfg.Apply(opts...)
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), testConfig(deskauth.WithDefaultRole("root")), nil)
	require.ErrorIs(t, err, deskauth.ErrConfigInvalid)

	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clients:\n  - id: web\n    name: Web\n    scheme: https\n"), 0o600))
	_, err = New(context.Background(), testConfig(deskauth.WithClientsFile(path)), nil)
	require.ErrorIs(t, err, deskauth.ErrConfigInvalid)
}

func TestNew_RedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), testConfig(deskauth.WithRedisStore(addr, "", 0)), nil)
	require.ErrorIs(t, err, deskauth.ErrStoreUnavailable)
}

func post(t *testing.T, url, body string) map[string]any {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, true, out["success"], out)
	return out
}

func TestServe(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig(deskauth.WithRedisStore(mr.Addr(), "", 0), deskauth.WithCleanupInterval(time.Hour))

	a, err := New(context.Background(), cfg, zap.New(core), WithRedisClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	signup := post(t, base+"/signup", `{"email":"alice@example.com","password":"Sup3rSecret"}`)
	session := signup["token"].(string)

	resp, err := http.Get(base + "/redirect?client=cursor&token=" + session)
	require.NoError(t, err)
	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(page))

	const marker = `href="cursor://auth?token=`
	i := strings.Index(string(page), marker)
	require.GreaterOrEqual(t, i, 0, string(page))
	rest := string(page)[i+len(marker):]
	exchange := rest[:strings.IndexByte(rest, '"')]

	redeemed := post(t, base+"/token/exchange", `{"token":"`+exchange+`"}`)
	assert.NotEqual(t, session, redeemed["token"])

	// Users live in redis and the auth limiter counts there too.
	assert.NotEmpty(t, mr.Keys())
	var limited bool
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, deskauth.DefaultRedisKeyPrefix+"ratelimit:") {
			limited = true
		}
	}
	assert.True(t, limited, "rate limit keys in %v", mr.Keys())

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(metricsBody), "deskauth_redemptions_total")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}

	assert.Equal(t, 4, logs.FilterMessage("desktop client").Len())
	assert.Equal(t, 1, logs.FilterMessage("web auth server started").Len())
	assert.Equal(t, 1, logs.FilterMessage("server stopped").Len())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestNew_ClientsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clients:\n  - id: zed\n    name: Zed\n    scheme: zed\n"), 0o600))

	a, err := New(context.Background(), testConfig(deskauth.WithClientsFile(path)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, 5, a.Registry().Len())
	c, ok := a.Registry().Lookup("zed")
	require.True(t, ok)
	assert.Equal(t, "zed", c.Scheme)
}
