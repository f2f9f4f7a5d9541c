package engine

import "sync/atomic"

// Clock numbers reconciliation passes.
//
// Each pass takes the next value; the journal orders passes and their
// document updates by it, independent of wall-clock skew between runs.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first pass is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes numbering after start, e.g. the last journaled pass.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next pass number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
