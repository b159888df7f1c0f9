// Package ratelimit throttles auth endpoints per client.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/middleware"
)

// Result describes the outcome of a single limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter defines the interface for rate limiters.
type Limiter interface {
	// Allow records one request for key and reports whether it fits.
	Allow(ctx context.Context, key string) (Result, error)

	// Reset clears the state held for key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the limiter.
	Close() error
}

// Config holds rate limit middleware configuration.
type Config struct {
	// KeyFunc extracts the rate limit key from an HTTP request.
	// Defaults to GetClientIP.
	KeyFunc func(r *http.Request) string

	// SkipFunc determines if a request should skip rate limiting.
	SkipFunc func(r *http.Request) bool

	// AllowList holds keys that are never limited.
	AllowList []string

	// Message is shown to limited clients.
	Message string

	// OnLimited is called for every rejected request, after the headers
	// are set and before the response is written.
	OnLimited func(r *http.Request, key string)

	// Logger receives limiter backend failures. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns a default rate limit middleware configuration.
func DefaultConfig() *Config {
	return &Config{
		KeyFunc: GetClientIP,
		Message: "too many authentication attempts, please try again later",
	}
}

// Middleware creates an HTTP middleware that applies rate limiting. Every
// checked response carries X-RateLimit-* headers; rejected ones also carry
// Retry-After and a 429 envelope.
func Middleware(limiter Limiter, cfg *Config) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = GetClientIP
	}
	message := cfg.Message
	if message == "" {
		message = DefaultConfig().Message
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowList))
	for _, k := range cfg.AllowList {
		allowed[k] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SkipFunc != nil && cfg.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if _, ok := allowed[key]; ok {
				next.ServeHTTP(w, r)
				return
			}

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Fail open.
				logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := secondsUntil(res.ResetAt)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))
			h.Set("X-RateLimit-Reset", strconv.Itoa(retryAfter))

			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				if cfg.OnLimited != nil {
					cfg.OnLimited(r, key)
				}
				middleware.WriteError(w, deskauth.NewAuthError(
					deskauth.CodeRateLimitExceeded,
					fmt.Sprintf("%s (retry in %d seconds)", message, retryAfter),
					deskauth.ErrRateLimitExceeded,
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func secondsUntil(t time.Time) int {
	s := int(math.Ceil(time.Until(t).Seconds()))
	if s < 0 {
		return 0
	}
	return s
}

// window represents a fixed window for one key.
type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-memory fixed window rate limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*window
	rate    int
	period  time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryLimiter creates a new in-memory rate limiter allowing rate
// requests per period for each key.
func NewMemoryLimiter(rate int, period time.Duration) *MemoryLimiter {
	ml := &MemoryLimiter{
		entries: make(map[string]*window),
		rate:    rate,
		period:  period,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go ml.cleanup()

	return ml
}

// Allow records one request for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, exists := m.entries[key]
	if !exists || !now.Before(e.resetAt) {
		e = &window{resetAt: now.Add(m.period)}
		m.entries[key] = e
	}

	if e.count >= m.rate {
		return Result{Allowed: false, Limit: m.rate, Remaining: 0, ResetAt: e.resetAt}, nil
	}

	e.count++
	return Result{Allowed: true, Limit: m.rate, Remaining: m.rate - e.count, ResetAt: e.resetAt}, nil
}

// Reset resets the rate limit for the given key.
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Close stops the cleanup goroutine.
func (m *MemoryLimiter) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

func (m *MemoryLimiter) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, key)
		}
	}
}
