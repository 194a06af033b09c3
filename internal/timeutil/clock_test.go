package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v is before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() returned a negative duration")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("frozen clock moved: %v", got)
	}

	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since() = %v, want 5s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", got, later)
	}
}

func TestSteppingMockClock(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := NewSteppingMockClock(start, 10*time.Millisecond)

	a := c.Now()
	b := c.Now()
	if b.Sub(a) != 10*time.Millisecond {
		t.Errorf("step = %v, want 10ms", b.Sub(a))
	}
	if got := c.Since(a); got != 20*time.Millisecond {
		t.Errorf("Since() = %v, want 20ms", got)
	}
}
