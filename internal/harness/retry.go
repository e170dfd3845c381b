package harness

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultStartAttempts = 10
	DefaultStartInterval = 100 * time.Millisecond
	DefaultPollInterval  = 100 * time.Millisecond
)

// Policy is a fixed-interval retry policy. A zero MaxAttempts retries until
// the context is done.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	// NewTimer replaces the wall-clock wait between attempts.
	NewTimer func() backoff.Timer
}

// StartPolicy is the bounded readiness policy used for containers.
func StartPolicy() Policy {
	return Policy{Interval: DefaultStartInterval, MaxAttempts: DefaultStartAttempts}
}

// PollPolicy is the unbounded policy used while waiting for telemetry.
func PollPolicy() Policy {
	return Policy{Interval: DefaultPollInterval}
}

// Bounded reports whether the policy gives up after MaxAttempts.
func (p Policy) Bounded() bool {
	return p.MaxAttempts > 0
}

// Do runs op until it succeeds, returns a Permanent error, exhausts the
// attempts or ctx is done. It returns the number of attempts made and the
// last error.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	attempts := 0
	operation := func() error {
		attempts++
		return op(ctx)
	}
	notify := func(err error, next time.Duration) {
		slog.Debug("Retrying.", "attempt", attempts, "next", next, "err", err)
	}
	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(b, ctx), notify, timer)
	return attempts, err
}

// Permanent wraps err so that Policy.Do stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
