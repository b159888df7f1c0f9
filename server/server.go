// Package server is the HTTP front door of the broker: HTML pages for the
// browser, JSON endpoints for login, signup, OAuth completion and token
// exchange, and bearer-protected API routes for desktop clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/authcore"
	"github.com/aloks98/deskauth/handoff"
	"github.com/aloks98/deskauth/internal/metrics"
	"github.com/aloks98/deskauth/middleware"
	chiauth "github.com/aloks98/deskauth/middleware/chi"
	"github.com/aloks98/deskauth/ratelimit"
	"github.com/aloks98/deskauth/store"
	"github.com/aloks98/deskauth/token"
)

// Defaults applied by New.
const (
	DefaultMaxBodyBytes    = 64 << 10
	DefaultRedirectDelay   = 2 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCORSOrigin      = "*"
	readHeaderTimeout      = 10 * time.Second
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Config holds the server's collaborators and settings.
type Config struct {
	Auth       *authcore.Service
	Tokens     *token.Service
	Dispatcher *handoff.Dispatcher
	Users      store.CredentialStore

	// Health is pinged by /healthz. Nil reports healthy.
	Health HealthChecker

	// Verifier checks OAuth callback assertions. Nil disables the callback.
	Verifier authcore.AssertionVerifier

	// AuthLimiter throttles the auth-mutating POSTs per client IP.
	// Nil disables throttling.
	AuthLimiter ratelimit.Limiter

	// APILimiter throttles the bearer-protected /api routes. Nil disables it.
	APILimiter ratelimit.Limiter

	// TrustedProxies are the peers allowed to name the client through
	// X-Forwarded-For or X-Real-IP. Empty keys limits on the peer address.
	TrustedProxies ratelimit.TrustedProxies

	// Metrics records request and auth counters. Nil disables /metrics.
	Metrics *metrics.Metrics

	Logger *zap.Logger

	// BaseURL is the externally visible URL, used in page links.
	BaseURL string

	MaxBodyBytes    int64
	CORSOrigin      string
	RedirectDelay   time.Duration
	ShutdownTimeout time.Duration
}

// Server routes HTTP requests to the auth services.
type Server struct {
	cfg    Config
	logger *zap.Logger
	pages  *pages
	router chi.Router
}

// New validates cfg, applies defaults and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Auth == nil || cfg.Tokens == nil || cfg.Dispatcher == nil || cfg.Users == nil {
		return nil, fmt.Errorf("%w: server requires auth, tokens, dispatcher and users", deskauth.ErrConfigInvalid)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = DefaultCORSOrigin
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	p, err := loadPages()
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: cfg.Logger, pages: p}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(realIP(s.cfg.TrustedProxies))
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors(s.cfg.CORSOrigin))
	r.Use(chimw.GetHead)
	r.Use(s.cfg.Metrics.Instrument)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	authLimit := s.limit(s.cfg.AuthLimiter, "auth", ratelimit.DefaultConfig().Message)
	apiLimit := s.limit(s.cfg.APILimiter, "api", "too many requests, please try again later")
	authenticate := middleware.Authenticate(s.cfg.Tokens, nil)

	r.Get("/", s.handleHome)
	r.Get("/login", s.handleLoginPage)
	r.Get("/signup", s.handleSignupPage)
	r.Get("/redirect", s.handleRedirect)
	r.Get("/healthz", s.handleHealth)

	r.With(authLimit).Post("/login", s.handleLogin)
	r.With(authLimit).Post("/signup", s.handleSignup)
	r.With(authLimit).Get("/oauth/callback", s.handleOAuthCallback)
	r.With(authLimit).Post("/oauth/callback", s.handleOAuthCallback)
	r.With(authLimit).Post("/token/exchange", s.handleExchange)
	r.With(authenticate).Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(apiLimit, authenticate)
		r.Get("/api/me", s.handleMe)
		r.With(chiauth.RequireOwnerOf("id", s.userOwner)).Get("/api/users/{id}", s.handleUser)
		r.With(middleware.RequireRole(deskauth.RoleAdmin)).Put("/api/users/{id}/role", s.handleSetRole)
	})

	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	return r
}

// limit wraps limiter in the rate limit middleware, or passes requests
// through when limiter is nil.
func (s *Server) limit(limiter ratelimit.Limiter, name, message string) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := ratelimit.DefaultConfig()
	cfg.Message = message
	cfg.Logger = s.logger
	cfg.OnLimited = func(r *http.Request, key string) {
		s.cfg.Metrics.RateLimited(name)
		s.logger.Warn("rate limit exceeded",
			zap.String("limiter", name),
			zap.String("key", key),
			zap.String("path", r.URL.Path),
		)
	}
	return ratelimit.Middleware(limiter, cfg)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, fmt.Errorf("%w: %s %s", deskauth.ErrNotFound, r.Method, r.URL.Path))
}

var allowCandidates = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	allowed := []string{http.MethodOptions}
	for _, m := range allowCandidates {
		if s.router.Match(chi.NewRouteContext(), m, r.URL.Path) {
			allowed = append(allowed, m)
			if m == http.MethodGet {
				allowed = append(allowed, http.MethodHead)
			}
		}
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	middleware.WriteError(w, deskauth.NewAuthError(deskauth.CodeMethodNotAllowed,
		fmt.Sprintf("method %s is not allowed on %s", r.Method, r.URL.Path), deskauth.ErrMethodNotAllowed))
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
