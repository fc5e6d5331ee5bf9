package sim

import "sync/atomic"

// Clock is a monotonic logical clock used for callback IDs and event
// sequencing inside the Bench.
//
// Every ID and calendar entry is stamped with a strictly increasing value,
// so ties at the same simulated time resolve in registration order and a
// rerun of the same stimulus produces an identical delivery order.
//
// Thread-safety: safe for concurrent use via atomics, although the Bench
// itself is single-threaded.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
