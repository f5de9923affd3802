package clock

import (
	"sync"
	"time"
)

// FrequencyClock answers "has one period at the configured frequency passed
// since the last tick". A frequency of 0 means the clock never elapses on
// its own and is only useful for manual ticking.
//
// A zero last-tick time counts as elapsed, so a freshly created clock fires
// on its first Elapsed call. Safe for concurrent use.
type FrequencyClock struct {
	mu        sync.Mutex
	frequency float64
	lastTick  time.Time
	now       func() time.Time
}

func New(frequencyHz float64) *FrequencyClock {
	return NewWithSource(frequencyHz, time.Now)
}

// NewWithSource creates a clock with an injectable time source.
func NewWithSource(frequencyHz float64, now func() time.Time) *FrequencyClock {
	if now == nil {
		now = time.Now
	}
	return &FrequencyClock{
		frequency: frequencyHz,
		now:       now,
	}
}

// Period returns the interval between elapses, or 0 for a manual-only clock.
func (c *FrequencyClock) Period() time.Duration {
	if c.frequency == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.frequency)
}

// Tick unconditionally records now as the last tick time.
func (c *FrequencyClock) Tick() {
	c.mu.Lock()
	c.lastTick = c.now()
	c.mu.Unlock()
}

// Elapsed reports whether at least one period has passed since the last
// tick. With refresh set, an elapsed clock is also ticked, so the next
// Elapsed call starts a fresh period.
func (c *FrequencyClock) Elapsed(refresh bool) bool {
	if c.frequency == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastTick.IsZero() && now.Sub(c.lastTick) < c.Period() {
		return false
	}
	if refresh {
		c.lastTick = now
	}
	return true
}
