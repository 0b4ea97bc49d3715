// Package poller runs a task repeatedly with a fixed delay until the task
// reports completion, fails, or the poller is stopped.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultInterval is the delay between two ticks when none is configured.
const DefaultInterval = time.Second

var (
	// ErrStopped is returned by Run when Stop was called. A tick that was in
	// flight when Stop was called has its result discarded.
	ErrStopped = errors.New("poller: stopped")

	// ErrMaxDuration is returned by Run when the configured maximum duration elapsed.
	ErrMaxDuration = errors.New("poller: maximum duration exceeded")
)

// Tick is one iteration. It returns done=true to end polling successfully.
type Tick func(ctx context.Context) (done bool, err error)

// Poller is a cancellable repeating task. A Poller is meant for a single Run;
// Stop may be called from any goroutine, any number of times.
type Poller struct {
	interval    time.Duration
	maxDuration time.Duration

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the delay between ticks.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxDuration bounds the total time Run may take. Zero means unbounded,
// which is the default: the server-side verification expiry ends most polls.
func WithMaxDuration(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.maxDuration = d
		}
	}
}

// New creates a Poller.
func New(opts ...Option) *Poller {
	p := &Poller{
		interval: DefaultInterval,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stop halts the loop. The pending timer is abandoned and no further tick is
// started. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Run calls tick immediately and then once per interval until tick returns
// done or an error, ctx is cancelled, or Stop is called. Cancellation is
// checked before each tick, after each tick returns and while waiting.
func (p *Poller) Run(ctx context.Context, tick Tick) error {
	var deadline <-chan time.Time
	if p.maxDuration > 0 {
		t := time.NewTimer(p.maxDuration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		if p.Stopped() {
			return ErrStopped
		}

		done, err := tick(ctx)
		if p.Stopped() {
			return ErrStopped
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wait := time.NewTimer(p.interval)
		select {
		case <-wait.C:
		case <-p.stopCh:
			wait.Stop()
			return ErrStopped
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			return ErrMaxDuration
		}
	}
}
