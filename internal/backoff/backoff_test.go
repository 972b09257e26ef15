package backoff

import (
	"testing"
	"time"
)

func TestNextGrowsExponentially(t *testing.T) {
	p := Policy{Base: time.Second, Cap: time.Minute, Factor: 2}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Next(attempt); got != w {
			t.Errorf("Next(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestNextRespectsCap(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 10 * time.Second, Factor: 2}

	if got := p.Next(20); got != 10*time.Second {
		t.Errorf("Next(20) = %v, want cap %v", got, 10*time.Second)
	}
}

func TestNextJitterBounds(t *testing.T) {
	p := Policy{Base: 10 * time.Second, Cap: time.Minute, Factor: 2, Jitter: 0.5}

	for i := 0; i < 100; i++ {
		got := p.Next(0)
		if got < 5*time.Second || got > 15*time.Second {
			t.Fatalf("Next(0) = %v, want within [5s, 15s]", got)
		}
	}
}
