package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Poller repeats fetches on a fixed interval. A tick for a key whose
// previous fetch is still in flight is skipped, not queued.
type Poller struct {
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
	jobs     map[string]context.CancelFunc
}

// NewPoller creates a poller. A non-positive interval means DefaultPollInterval.
func NewPoller(interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		logger:   logger,
		inflight: make(map[string]bool),
		jobs:     make(map[string]context.CancelFunc),
	}
}

// Start polls fn under key until Stop or ctx is done. Starting a key that
// is already running replaces its fetch.
func (p *Poller) Start(ctx context.Context, key string, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if prev, ok := p.jobs[key]; ok {
		prev()
	}
	p.jobs[key] = cancel
	p.mu.Unlock()

	go p.run(ctx, key, fn)
}

// Stop ends polling for key and cancels the context of its in-flight fetch.
func (p *Poller) Stop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.jobs[key]; ok {
		cancel()
		delete(p.jobs, key)
	}
}

// StopAll ends every poll loop.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cancel := range p.jobs {
		cancel()
		delete(p.jobs, key)
	}
}

// Running reports whether key has an active poll loop.
func (p *Poller) Running(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[key]
	return ok
}

func (p *Poller) run(ctx context.Context, key string, fn func(context.Context) error) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx, key, fn)
		}
	}
}

// tick launches fn unless a fetch for key is still running. It reports
// whether fn was launched.
func (p *Poller) tick(ctx context.Context, key string, fn func(context.Context) error) bool {
	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		p.logger.Debug("poll tick skipped, previous fetch in flight", zap.String("key", key))
		return false
	}
	p.inflight[key] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, key)
			p.mu.Unlock()
		}()
		if err := fn(ctx); err != nil {
			p.logger.Debug("poll fetch failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return true
}
