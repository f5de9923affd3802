package clock

import (
	"testing"
	"time"
)

// fakeTime is a manually advanced time source.
type fakeTime struct {
	current time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{current: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) now() time.Time { return f.current }

func (f *fakeTime) advance(d time.Duration) { f.current = f.current.Add(d) }

func TestElapsedBeforeFirstTick(t *testing.T) {
	ft := newFakeTime()
	c := NewWithSource(0.2, ft.now)

	if !c.Elapsed(false) {
		t.Error("Expected a never-ticked clock to report elapsed")
	}
}

func TestElapsedOncePerPeriod(t *testing.T) {
	ft := newFakeTime()
	c := NewWithSource(0.2, ft.now) // 5 second period

	c.Tick()
	if c.Elapsed(false) {
		t.Error("Expected clock not to elapse immediately after tick")
	}

	ft.advance(4 * time.Second)
	if c.Elapsed(false) {
		t.Error("Expected clock not to elapse before the period has passed")
	}

	ft.advance(1 * time.Second)
	if !c.Elapsed(true) {
		t.Error("Expected clock to elapse after a full period")
	}

	// The refresh above reset the period.
	ft.advance(1 * time.Second)
	if c.Elapsed(false) {
		t.Error("Expected refresh to start a new period")
	}
}

func TestElapsedWithoutRefreshKeepsFiring(t *testing.T) {
	ft := newFakeTime()
	c := NewWithSource(1.0, ft.now)

	c.Tick()
	ft.advance(2 * time.Second)

	if !c.Elapsed(false) {
		t.Fatal("Expected clock to elapse")
	}
	if !c.Elapsed(false) {
		t.Error("Expected non-refreshing Elapsed to keep reporting true")
	}
}

func TestZeroFrequencyNeverElapses(t *testing.T) {
	ft := newFakeTime()
	c := NewWithSource(0, ft.now)

	ft.advance(24 * time.Hour)
	if c.Elapsed(true) {
		t.Error("Expected a zero-frequency clock to never elapse")
	}
	if c.Period() != 0 {
		t.Errorf("Expected zero period, got %v", c.Period())
	}
}

func TestTickResetsPeriod(t *testing.T) {
	ft := newFakeTime()
	c := NewWithSource(0.2, ft.now)

	c.Tick()
	ft.advance(4 * time.Second)
	c.Tick()
	ft.advance(4 * time.Second)

	if c.Elapsed(false) {
		t.Error("Expected tick to restart the period")
	}
}
