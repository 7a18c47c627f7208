// Package retry implements the bounded backoff policy used around vault
// filesystem writes. Failures are classified into transient, fatal and
// permanent; only transient failures are retried.
package retry

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/hpungsan/stash/internal/config"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassPermanent errors are not retried and do not halt the writer.
	ClassPermanent Class = iota
	// ClassTransient errors are retried with backoff.
	ClassTransient
	// ClassFatal errors are never retried and halt the export path.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "permanent"
	}
}

// Outcome is how a Do call concluded.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Exhausted Outcome = "exhausted" // transient failures outlasted MaxAttempts
	Fatal     Outcome = "fatal"
	Failed    Outcome = "failed" // permanent failure, not retried
	Cancelled Outcome = "cancelled"
)

// Result reports the outcome of a Do call.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error // last error; nil when Outcome is Succeeded
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Outcome == Succeeded
}

// Policy is an exponential backoff with a bounded attempt count.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Classify overrides the default errno classification.
	Classify func(error) Class

	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// Default values used when a Policy field is zero.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// FromConfig builds a Policy from the retry_* config keys.
func FromConfig(cfg *config.Config, logger *slog.Logger) Policy {
	p := Policy{Logger: logger}
	if cfg != nil {
		p.MaxAttempts = cfg.RetryMaxAttempts
		p.BaseDelay = cfg.RetryBaseDelay()
		p.MaxDelay = cfg.RetryMaxDelay()
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	base, maxDelay := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, fails non-transiently, or MaxAttempts is
// reached. ctx is checked between attempts only; fn itself is never
// interrupted.
func (p Policy) Do(ctx context.Context, fn func() error) Result {
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := p.maxAttempts()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Cancelled, Attempts: attempt - 1, Err: stderrors.Join(err, lastErr)}
		}

		err := fn()
		if err == nil {
			return Result{Outcome: Succeeded, Attempts: attempt}
		}
		lastErr = err

		switch classify(err) {
		case ClassFatal:
			return Result{Outcome: Fatal, Attempts: attempt, Err: err}
		case ClassPermanent:
			return Result{Outcome: Failed, Attempts: attempt, Err: err}
		}

		if attempt >= maxAttempts {
			return Result{Outcome: Exhausted, Attempts: attempt, Err: err}
		}

		delay := p.Delay(attempt)
		logger.Debug("retrying transient failure", "attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return Result{Outcome: Cancelled, Attempts: attempt, Err: stderrors.Join(err, lastErr)}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
