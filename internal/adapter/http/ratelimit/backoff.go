package ratelimit

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay imposed on a response after repeated failed
// authentication attempts.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func NewBackoff(min, max time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
		Jitter: true,
	}
}

// Delay returns the wait for the given number of failures. No failures means
// no delay.
func (b *Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}

	d := float64(b.Min) * math.Pow(b.Factor, float64(failures-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}
