package testutil

import (
	"sync"
	"time"
)

// FakeTime is a settable wall clock for code that takes a now function.
//
// Each call to Now returns the current time and then advances it by Step,
// so consecutive timestamps differ and sort.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeTime struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFakeTime creates a clock starting at start that advances step per read.
func NewFakeTime(start time.Time, step time.Duration) *FakeTime {
	return &FakeTime{now: start, step: step}
}

// Now returns the current time, then advances it.
func (c *FakeTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current time without advancing.
func (c *FakeTime) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeTime) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
