package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock := NewMockClock(start)

	clock.Advance(250 * time.Millisecond)
	if got := clock.Since(start); got != 250*time.Millisecond {
		t.Errorf("Since() = %v, want 250ms", got)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() = %v, want %v", clock.Now(), later)
	}
}

func TestNowNanos(t *testing.T) {
	start := time.Unix(10, 500)
	clock := NewMockClock(start)
	if got := NowNanos(clock); got != 10*int64(time.Second)+500 {
		t.Errorf("NowNanos() = %d", got)
	}
}
