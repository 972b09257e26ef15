// Package backoff provides the retry delay policy used by background
// refresh loops.
package backoff

import (
	"math/rand"
	"time"
)

// Policy computes exponential delays with jitter.
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Jitter float64 // fraction of the delay randomized, 0..1
}

// Default is tuned for polite retries against a remote profile service.
var Default = Policy{
	Base:   time.Second,
	Cap:    2 * time.Minute,
	Factor: 2,
	Jitter: 0.2,
}

// Next returns the delay before retry number attempt (starting at 0).
func (p Policy) Next(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Cap) {
			d = float64(p.Cap)
			break
		}
	}
	if p.Jitter > 0 {
		// Spread delays across [d*(1-j), d*(1+j)] so synchronized loops
		// don't hammer the upstream in lockstep.
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
