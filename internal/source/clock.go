package source

import "sync/atomic"

// Clock is a monotonic logical clock used to stamp actions. Two actions
// stamped by the same clock never share a time.
//
// Thread-safety: safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock starts at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes from start, e.g. the highest time already persisted.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next time.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last time handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
