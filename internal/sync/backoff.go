package sync

import "time"

const (
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Backoff hands out exponentially growing retry delays. It is not
// goroutine safe; [AutoSync] only touches it from its own goroutine.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff returns a backoff starting at initial and capping at max.
// Zero or negative arguments fall back to the defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = initialRetryDelay
	}
	if max <= 0 {
		max = maxRetryDelay
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max}
}

// NextDelay returns the delay to wait before the next retry and advances
// the sequence: initial, 2*initial, 4*initial, ... capped at max.
func (b *Backoff) NextDelay() time.Duration {
	if b.next == 0 {
		b.next = b.initial
	}
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.next = 0
}
