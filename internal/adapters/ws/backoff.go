package ws

import "time"

// Backoff is a bounded exponential reconnect policy. Attempt counting starts
// at zero; once MaxAttempts delays have been consumed the channel gives up
// and surfaces a terminal error status instead of retrying forever.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     500 * time.Millisecond,
		Max:         15 * time.Second,
		MaxAttempts: 8,
	}
}

// Delay returns the wait before the given attempt, doubling from Initial and
// capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether the attempt counter has passed the cap.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
