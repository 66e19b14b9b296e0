// Package pollloop is a small reusable polling loop with a functional-option
// constructor, generalized from the teacher's
// txlistener.NewTxListener(client, txlistener.WithPollInterval(...), txlistener.WithTimeout(...))
// pattern referenced in cmd/main.go and blackhole_test.go. It drives the
// scheduler's worker loop and the reaper sweep.
package pollloop

import (
	"context"
	"time"
)

// Loop polls a unit of work on a fixed interval until its context is
// cancelled.
type Loop struct {
	interval time.Duration
	timeout  time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

// WithPollInterval sets the time between invocations of the polled function.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

// WithTimeout bounds each invocation of the polled function with its own
// context timeout, independent of the loop's overall lifetime.
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) { l.timeout = d }
}

// New builds a Loop with sane defaults (poll every 5s, no per-call timeout),
// overridden by opts.
func New(opts ...Option) *Loop {
	l := &Loop{interval: 5 * time.Second}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run invokes fn on every tick until ctx is cancelled. fn errors are passed
// to onError rather than stopping the loop — a single failed tick must never
// take down the worker (spec.md §7 propagation policy: boundary failures are
// explicit outcomes, never ambient state).
func (l *Loop) Run(ctx context.Context, fn func(context.Context) error, onError func(error)) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx, fn, onError)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, fn, onError)
		}
	}
}

func (l *Loop) tick(ctx context.Context, fn func(context.Context) error, onError func(error)) {
	callCtx := ctx
	var cancel context.CancelFunc
	if l.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := fn(callCtx); err != nil && onError != nil {
		onError(err)
	}
}
