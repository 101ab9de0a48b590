package app

import "time"

// DefaultBackoffMax caps a single retry delay.
const DefaultBackoffMax = 10 * time.Minute

// backoff computes exponential retry delays: initial * 2^attempt.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration) backoff {
	return backoff{
		initial: initial,
		max:     max,
	}
}

// Delay returns the wait before retry number attempt (zero based).
func (b backoff) Delay(attempt int) time.Duration {
	d := b.initial
	for i := 0; i < attempt; i++ {
		if d >= b.max/2 {
			return b.max
		}
		d *= 2
	}
	if d > b.max {
		return b.max
	}
	return d
}
