package scheduler

import (
	"math/rand/v2"
	"time"
)

// DefaultRetryDelay is the flat wait between two attempts of one firing.
const DefaultRetryDelay = 5 * time.Second

// BackoffFunc returns the wait after the failed attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

func FlatBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return d
	}
}

// ExponentialBackoff doubles base per attempt up to max, then picks a random
// wait in the upper half of that window.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		if d <= 1 {
			return d
		}

		half := d / 2

		return half + rand.N(d-half+1)
	}
}
