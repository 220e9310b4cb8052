// Package retry provides a generic retry helper with exponential backoff and
// jitter. The cache wraps writes to the persistent tier with it; factory
// calls are never retried.
package retry

import (
	"math/rand/v2"
	"time"
)

// backoff is the delay before retry number attempt+1: BaseDelay doubled per
// attempt, capped at MaxDelay, then spread by ±Jitter.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.MaxDelay
	if attempt < 62 {
		if exp := cfg.BaseDelay << attempt; exp > 0 && exp < d {
			d = exp
		}
	}
	if cfg.Jitter <= 0 {
		return d
	}
	spread := float64(d) * cfg.Jitter * (2*rand.Float64() - 1)
	return max(0, d+time.Duration(spread))
}
