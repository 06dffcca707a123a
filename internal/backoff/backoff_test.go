package backoff

import (
	"testing"
	"time"
)

func TestExponentialDoublesUpToMax(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
	}

	for _, tc := range cases {
		got := Exponential(tc.attempt, 100*time.Millisecond, time.Second)
		if got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestExponentialDefaults(t *testing.T) {
	if got := Exponential(0, 0, 0); got != 100*time.Millisecond {
		t.Fatalf("expected default min, got %v", got)
	}

	if got := Exponential(100, 0, 0); got != 5*time.Second {
		t.Fatalf("expected default max, got %v", got)
	}
}

func TestFixedIgnoresAttempt(t *testing.T) {
	delayFor := Fixed(2 * time.Second)

	for attempt := 0; attempt < 5; attempt++ {
		if got := delayFor(attempt); got != 2*time.Second {
			t.Fatalf("attempt %d: expected 2s, got %v", attempt, got)
		}
	}
}

func TestFixedZeroFallsBackToOneSecond(t *testing.T) {
	if got := Fixed(0)(3); got != time.Second {
		t.Fatalf("expected 1s fallback, got %v", got)
	}
}
