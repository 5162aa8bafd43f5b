package backoff

import (
	"testing"
	"time"
)

func TestDelayDoublesUntilCap(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelayClampsBadInput(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 10 * time.Second}
	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v", got)
	}
	if got := p.Delay(2); got != 2*time.Second {
		t.Errorf("zero multiplier should default to 2, got %v", got)
	}
	if got := p.Delay(1000); got != 10*time.Second {
		t.Errorf("Delay(1000) = %v", got)
	}
}
