package vulkantest

import (
	"sync"
	"time"
)

// Clock is a manual core.TimeSource. Sleep advances the clock instead of
// blocking, after yielding so worker goroutines can make progress.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	c.mu.Unlock()
	// Real time must pass for the workers being polled.
	time.Sleep(50 * time.Microsecond)
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns how many times Sleep was called.
func (c *Clock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}
