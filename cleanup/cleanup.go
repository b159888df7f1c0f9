// Package cleanup sweeps expired and consumed tokens in the background.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aloks98/deskauth/store"
)

// Logger is the interface for logging cleanup events.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Config holds cleanup worker configuration.
type Config struct {
	// Store holds the tokens to sweep.
	Store store.TokenStore

	// Interval is how often to sweep. Defaults to 1 minute.
	Interval time.Duration

	// Retention keeps expired and consumed tokens around this long past
	// their expiry before they are deleted.
	Retention time.Duration

	// Timeout bounds a single sweep. Defaults to 30 seconds.
	Timeout time.Duration

	// Logger for cleanup events. Defaults to a no-op logger.
	Logger Logger

	// OnSweep is called after every successful sweep with the number of
	// deleted tokens.
	OnSweep func(deleted int64)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Stats holds cleanup statistics.
type Stats struct {
	LastRun       time.Time
	Runs          int64
	TokensDeleted int64
	Errors        int64
}

// Worker performs periodic cleanup of expired tokens.
type Worker struct {
	cfg  Config
	done chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	mu    sync.RWMutex
	stats Stats
}

// NewWorker creates a new cleanup worker.
func NewWorker(cfg *Config) *Worker {
	c := *cfg
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Worker{
		cfg:  c,
		done: make(chan struct{}),
	}
}

// Start begins the cleanup loop. It runs one sweep immediately.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

// Stop stops the cleanup loop and waits for an in-flight sweep to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()

	w.RunNow()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.RunNow()
		}
	}
}

// RunNow performs one sweep and returns the number of deleted tokens.
func (w *Worker) RunNow() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	now := w.cfg.Now()
	count, err := w.cfg.Store.DeleteExpiredTokens(ctx, now.Add(-w.cfg.Retention))

	w.mu.Lock()
	w.stats.LastRun = now
	w.stats.Runs++
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.TokensDeleted += count
	}
	w.mu.Unlock()

	if err != nil {
		w.cfg.Logger.Errorf("error sweeping expired tokens: %v", err)
		return 0
	}
	if count > 0 {
		w.cfg.Logger.Infof("deleted %d expired tokens", count)
	}
	if w.cfg.OnSweep != nil {
		w.cfg.OnSweep(count)
	}
	return count
}

// Stats returns the current cleanup statistics.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}
