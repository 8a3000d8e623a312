// Package retry runs an operation again with exponential backoff until it
// succeeds or a budget runs out.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/jonboulle/clockwork"
)

type Options struct {
	// MaxRetries bounds the number of attempts after the first one. When
	// neither MaxRetries nor MaxElapsed is set, retrying stops once the
	// backoff has grown to MaxBackoff.
	MaxRetries int
	// MaxElapsed bounds the total time, measured on Clock, from the first
	// attempt to the last. The final wait is shortened to end on the budget.
	MaxElapsed time.Duration

	InitialBackoff time.Duration // Wait after the first failed attempt
	MaxBackoff     time.Duration // Upper bound on a single wait
	Multiplier     float64       // Growth factor between waits

	Clock clockwork.Clock // Real clock when nil

	// Only used by Do.
	Name                  string
	DontLogFailedAttempts bool
}

type Retry struct {
	opts  *Options
	ctx   context.Context
	clock clockwork.Clock

	currentAttempt int
	maxAttempts    int

	start   time.Time
	delayed time.Duration
	maxTime time.Duration

	isReset   bool
	nextDelay time.Duration
}

func New(ctx context.Context, opts *Options) *Retry {
	maxAttempts := opts.MaxRetries
	maxTime := time.Duration(0)
	if maxAttempts <= 0 && opts.MaxElapsed <= 0 {
		if opts.Multiplier > 1 && opts.MaxBackoff > opts.InitialBackoff {
			tries := 1 + int(math.Ceil(math.Log(float64(opts.MaxBackoff)/float64(opts.InitialBackoff))/math.Log(opts.Multiplier)))
			b := opts.InitialBackoff
			for i := 0; i < tries; i++ {
				maxTime += b
				b = time.Duration(math.Min(float64(b)*opts.Multiplier, float64(opts.MaxBackoff)))
			}
		} else {
			maxAttempts = 1
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Retry{
		ctx:         ctx,
		opts:        opts,
		clock:       clock,
		maxAttempts: maxAttempts,
		maxTime:     maxTime,
	}
	r.Reset()
	return r
}

func DefaultOptions() *Options {
	return &Options{
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     3 * time.Second,
		Multiplier:     2,
	}
}

func (r *Retry) Reset() {
	r.currentAttempt = 0
	r.delayed = 0
	r.isReset = true
	r.nextDelay = 0
}

func (r *Retry) delay() time.Duration {
	backoff := float64(r.opts.InitialBackoff) * math.Pow(r.opts.Multiplier, float64(r.currentAttempt))
	if maxBackoff := float64(r.opts.MaxBackoff); maxBackoff > 0 && backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Duration(backoff)
}

// NextDelay returns how long to wait before the next attempt, or false when
// the budget is spent. The first call always allows an immediate attempt.
func (r *Retry) NextDelay() (time.Duration, bool) {
	if r.isReset {
		r.isReset = false
		r.start = r.clock.Now()
		r.nextDelay = r.delay()
		return 0, true
	}
	if r.maxAttempts > 0 && r.currentAttempt >= r.maxAttempts {
		return 0, false
	}
	if r.maxTime > 0 && r.delayed >= r.maxTime {
		return 0, false
	}
	d := r.nextDelay
	if r.opts.MaxElapsed > 0 {
		remaining := r.opts.MaxElapsed - r.clock.Since(r.start)
		if remaining <= 0 {
			return 0, false
		}
		d = min(d, remaining)
	}
	r.currentAttempt++
	r.delayed += d
	r.nextDelay = r.delay()
	return d, true
}

// Next waits for the next attempt. It returns false when the budget is spent
// or ctx is done.
func (r *Retry) Next() bool {
	d, ok := r.NextDelay()
	if !ok {
		return false
	}
	if d == 0 {
		return r.ctx.Err() == nil
	}
	select {
	case <-r.clock.After(d):
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Retry) AttemptNumber() int {
	return r.currentAttempt + 1
}

// MaxAttempts is only meaningful when MaxRetries is set or derived.
func (r *Retry) MaxAttempts() int {
	return r.maxAttempts
}

// Do calls fn until it succeeds, returns an error wrapped with
// NonRetryableError, or the retry budget is spent. It returns the last error
// fn returned; callers distinguish a done ctx via ctx.Err().
func Do[T any](ctx context.Context, opts *Options, fn func(ctx context.Context) (T, error)) (T, error) {
	r := New(ctx, opts)
	var lastErr error
	for r.Next() {
		rsp, err := fn(ctx)
		if err == nil {
			if lastErr != nil && !opts.DontLogFailedAttempts {
				log.CtxDebugf(ctx, "%s succeeded on attempt %d after: %s", name(opts), r.AttemptNumber(), lastErr)
			}
			return rsp, nil
		}
		var nre *nonRetryableError
		if errors.As(err, &nre) {
			return *new(T), nre.err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return *new(T), lastErr
}

func DoVoid(ctx context.Context, opts *Options, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func name(opts *Options) string {
	if opts.Name == "" {
		return "operation"
	}
	return opts.Name
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryableError marks err as final: Do returns err without retrying.
func NonRetryableError(err error) error {
	return &nonRetryableError{err}
}
