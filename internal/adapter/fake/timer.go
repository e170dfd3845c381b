package fake

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ backoff.Timer = (*Timer)(nil)

// Timer is a backoff.Timer that fires immediately and records every wait it
// was asked for, so retry budgets can be asserted without sleeping.
type Timer struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	c     chan time.Time
}

// NewTimer creates a Timer whose simulated clock starts at the zero time.
func NewTimer() *Timer {
	return &Timer{c: make(chan time.Time, 1)}
}

// Factory returns a constructor for harness.Policy.NewTimer. Every timer it
// creates shares t's record.
func (t *Timer) Factory() func() backoff.Timer {
	return func() backoff.Timer { return t }
}

func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.now = t.now.Add(d)
	now := t.now
	t.mu.Unlock()

	select {
	case t.c <- now:
	default:
	}
}

func (t *Timer) Stop() {}

func (t *Timer) C() <-chan time.Time {
	return t.c
}

// Now is the simulated time: the zero time plus every wait so far.
func (t *Timer) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Waits returns the durations passed to Start, in order.
func (t *Timer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.waits))
	copy(out, t.waits)
	return out
}

// Elapsed is the total simulated wait.
func (t *Timer) Elapsed() time.Duration {
	var total time.Duration
	for _, d := range t.Waits() {
		total += d
	}
	return total
}
