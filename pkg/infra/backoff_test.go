package infra

import (
	"testing"
	"time"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := NewBackoff(1*time.Second, 8*time.Second, 2.0)

	var last time.Duration
	for i := 0; i < 10; i++ {
		wait := b.Next()
		if wait < 1*time.Second-200*time.Millisecond {
			t.Errorf("attempt %d: wait %v below minimum", i, wait)
		}
		// 20% jitter on top of the 8s ceiling
		if wait > 10*time.Second {
			t.Errorf("attempt %d: wait %v above jittered ceiling", i, wait)
		}
		last = wait
	}
	_ = last

	if b.Attempts() != 10 {
		t.Errorf("attempts = %d, want 10", b.Attempts())
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(1*time.Second, 60*time.Second, 2.0)
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()

	if b.Attempts() != 0 {
		t.Errorf("attempts after reset = %d, want 0", b.Attempts())
	}
	wait := b.Next()
	if wait > 2*time.Second {
		t.Errorf("wait after reset = %v, want near the minimum", wait)
	}
}

func TestJitter_StaysWithinFraction(t *testing.T) {
	base := 60 * time.Second
	for i := 0; i < 100; i++ {
		d := Jitter(base, 0.1)
		if d < 54*time.Second || d > 66*time.Second {
			t.Fatalf("Jitter() = %v, want within ±10%% of %v", d, base)
		}
	}
}
