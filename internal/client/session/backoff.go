package session

import (
	"math/rand/v2"
	"time"
)

// Backoff is an exponential reconnect policy with jitter. MaxAttempts 0
// keeps trying forever.
type Backoff struct {
	Min         time.Duration
	Max         time.Duration
	MaxAttempts int
}

// jitter is uniform in [0, delay/jitterDivisor).
const jitterDivisor = 2

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Min
	if d <= 0 {
		d = time.Millisecond
	}
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if j := int64(d) / jitterDivisor; j > 0 {
		d += time.Duration(rand.Int64N(j))
	}
	return d
}

// Exhausted reports whether attempt is past the configured limit.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
