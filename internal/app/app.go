// Package app wires the stores, services and HTTP front door into a
// runnable broker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/authcore"
	"github.com/aloks98/deskauth/cleanup"
	"github.com/aloks98/deskauth/handoff"
	"github.com/aloks98/deskauth/internal/metrics"
	"github.com/aloks98/deskauth/password"
	"github.com/aloks98/deskauth/ratelimit"
	"github.com/aloks98/deskauth/server"
	"github.com/aloks98/deskauth/store"
	"github.com/aloks98/deskauth/store/memory"
	redisstore "github.com/aloks98/deskauth/store/redis"
	"github.com/aloks98/deskauth/token"
)

const pingTimeout = 5 * time.Second

// Option customizes how New builds the App.
type Option func(*App)

// WithStore uses s instead of building the configured backend.
// The App takes ownership and closes it.
func WithStore(s store.Store) Option {
	return func(a *App) {
		a.store = s
	}
}

// WithRedisClient uses client for the redis backend and the shared rate
// limiter instead of dialing RedisAddr.
func WithRedisClient(client goredis.UniversalClient) Option {
	return func(a *App) {
		a.redis = client
	}
}

// App is an assembled broker.
type App struct {
	cfg    *deskauth.Config
	logger *zap.Logger

	store    store.Store
	redis    goredis.UniversalClient
	registry *handoff.Registry
	metrics  *metrics.Metrics
	limiters []ratelimit.Limiter
	cleanup  *cleanup.Worker
	server   *server.Server

	mu     sync.Mutex
	closed bool
}

// New builds every component described by cfg. The store is pinged before
// New returns so a bad backend fails at startup.
func New(ctx context.Context, cfg *deskauth.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	if err := a.openStore(ctx); err != nil {
		return err
	}

	hasher, err := password.New(cfg)
	if err != nil {
		return err
	}

	tokens := token.NewService(&token.Config{
		SessionTTL:  cfg.SessionTTL,
		ExchangeTTL: cfg.ExchangeTTL,
	}, a.store, a.store)

	auth, err := authcore.NewService(&authcore.Config{
		DefaultRole: cfg.DefaultRole,
		Logger:      a.logger.Named("auth"),
	}, a.store, tokens, hasher)
	if err != nil {
		return err
	}

	a.registry, err = handoff.LoadRegistry(cfg.ClientsFile)
	if err != nil {
		return fmt.Errorf("%w: %v", deskauth.ErrConfigInvalid, err)
	}
	dispatcher := handoff.NewDispatcher(a.registry, tokens, a.logger.Named("handoff"))

	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	var authLimiter, apiLimiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		if a.redis != nil {
			authLimiter = ratelimit.NewRedisLimiter(&ratelimit.RedisConfig{
				Client:    a.redis,
				KeyPrefix: cfg.RedisKeyPrefix + "ratelimit:",
				Rate:      cfg.RateLimitRequests,
				Window:    cfg.RateLimitWindow,
			})
		} else {
			authLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		}
		apiLimiter = ratelimit.NewTokenBucketLimiter(cfg.APIRateLimit, cfg.APIRateBurst)
		a.limiters = append(a.limiters, authLimiter, apiLimiter)
	}

	trusted, err := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("%w: %v", deskauth.ErrConfigInvalid, err)
	}

	var verifier authcore.AssertionVerifier
	if cfg.IsOAuthEnabled() {
		verifier = authcore.NewJWTVerifier(cfg.OAuthAssertionSecret, cfg.OAuthAssertionIssuer)
	}

	if cfg.CleanupInterval > 0 {
		a.cleanup = cleanup.NewWorker(&cleanup.Config{
			Store:     a.store,
			Interval:  cfg.CleanupInterval,
			Retention: cfg.TokenRetention,
			Logger:    a.logger.Named("cleanup").Sugar(),
			OnSweep:   a.metrics.TokensSwept,
		})
	}

	a.server, err = server.New(server.Config{
		Auth:            auth,
		Tokens:          tokens,
		Dispatcher:      dispatcher,
		Users:           a.store,
		Health:          a.store,
		Verifier:        verifier,
		AuthLimiter:     authLimiter,
		APILimiter:      apiLimiter,
		TrustedProxies:  trusted,
		Metrics:         a.metrics,
		Logger:          a.logger.Named("http"),
		BaseURL:         cfg.BaseURL(),
		MaxBodyBytes:    cfg.MaxBodyBytes,
		CORSOrigin:      cfg.CORSOrigin,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	return err
}

func (a *App) openStore(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.StoreBackend {
		case deskauth.BackendRedis:
			if a.redis == nil {
				a.redis = goredis.NewClient(&goredis.Options{
					Addr:     a.cfg.RedisAddr,
					Password: a.cfg.RedisPassword,
					DB:       a.cfg.RedisDB,
				})
			}
			s, err := redisstore.New(&redisstore.Config{
				Client:    a.redis,
				KeyPrefix: a.cfg.RedisKeyPrefix,
				Retention: a.cfg.TokenRetention,
			})
			if err != nil {
				return err
			}
			a.store = s
		default:
			a.store = memory.New()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := a.store.Ping(pingCtx); err != nil {
		return fmt.Errorf("store %s: %w", a.cfg.StoreBackend, err)
	}
	return nil
}

// Handler returns the HTTP handler of the front door.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Registry returns the desktop client registry.
func (a *App) Registry() *handoff.Registry {
	return a.registry
}

// Store returns the backing store.
func (a *App) Store() store.Store {
	return a.store
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the cleanup worker and the front door on ln until ctx is
// cancelled, then shuts both down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logStartup(ln.Addr())

	if a.cleanup != nil {
		a.cleanup.Start()
		defer a.cleanup.Stop()
	}

	if err := a.server.Serve(ctx, ln); err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

func (a *App) logStartup(addr net.Addr) {
	base := a.cfg.BaseURL()
	a.logger.Info("web auth server started",
		zap.String("addr", addr.String()),
		zap.String("store", a.cfg.StoreBackend),
		zap.Bool("oauth", a.cfg.IsOAuthEnabled()),
		zap.Bool("rate_limit", a.cfg.RateLimitEnabled),
		zap.Bool("metrics", a.cfg.MetricsEnabled),
	)
	a.logger.Info("pages",
		zap.String("home", base+"/"),
		zap.String("login", base+"/login"),
		zap.String("signup", base+"/signup"),
	)
	for _, c := range a.registry.Clients() {
		a.logger.Info("desktop client",
			zap.String("id", c.ID),
			zap.String("name", c.Name),
			zap.String("scheme", c.Scheme+"://"),
		)
	}
}

// Close releases the limiters and the store. It is safe to call more than
// once.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	for _, l := range a.limiters {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
