package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter implements the token bucket algorithm per key on top of
// golang.org/x/time/rate. It suits steady API traffic where short bursts are
// fine.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewTokenBucketLimiter creates a token bucket limiter refilling perSecond
// tokens per second up to burst.
func NewTokenBucketLimiter(perSecond float64, burst int) *TokenBucketLimiter {
	tb := &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    5 * time.Minute,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go tb.cleanup()
	return tb
}

// Allow takes one token from key's bucket.
func (t *TokenBucketLimiter) Allow(_ context.Context, key string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, exists := t.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	ok := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	res := Result{
		Allowed:   ok,
		Limit:     t.burst,
		Remaining: int(math.Floor(tokens)),
		ResetAt:   now,
	}
	if tokens < 1 && t.limit > 0 {
		wait := time.Duration((1 - tokens) / float64(t.limit) * float64(time.Second))
		res.ResetAt = now.Add(wait)
	}
	return res, nil
}

// Reset resets the rate limit for the given key.
func (t *TokenBucketLimiter) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, key)
	return nil
}

// Close stops the cleanup goroutine.
func (t *TokenBucketLimiter) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.removeStale()
		}
	}
}

// removeStale removes buckets that haven't been used in a while.
func (t *TokenBucketLimiter) removeStale() {
	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := t.now().Add(-t.idle)
	for key, b := range t.buckets {
		if b.lastSeen.Before(threshold) {
			delete(t.buckets, key)
		}
	}
}
