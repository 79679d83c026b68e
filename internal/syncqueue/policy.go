package syncqueue

import (
	"math/rand"
	"time"
)

// RetryPolicy decides how long to wait before the next flush cycle.
// attempt is the number of consecutive cycles that made no progress; a
// cycle that flushed anything resets it to zero.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedInterval retries on a constant cadence regardless of outcome.
type FixedInterval struct {
	Every time.Duration
}

func (p FixedInterval) NextDelay(int) time.Duration {
	return p.Every
}

// ExponentialBackoff doubles the delay per fruitless cycle up to Max and
// adds up to Jitter of random slack so stalled clients do not flush in
// lockstep after a shared outage.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

func (p ExponentialBackoff) NextDelay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}
