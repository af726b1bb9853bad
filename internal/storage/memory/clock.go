package memory

import "sync/atomic"

// Clock is the engine's logical commit clock.
//
// Every committed batch is stamped with a strictly increasing version, and
// every batch remembers the version current when it began. A key whose last
// commit version is newer than the batch's start version was written
// concurrently.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next version and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued version without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
