package testutil

import "sync"

// DeterministicClock is a settable height source for tests.
//
// Unlike engine.ManualClock it can move backwards via Reset, so one
// scenario can run several times from the same starting height. It
// satisfies engine.Clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu     sync.Mutex
	start  uint64
	height uint64
}

// NewDeterministicClock creates a clock at start.
func NewDeterministicClock(start uint64) *DeterministicClock {
	return &DeterministicClock{start: start, height: start}
}

// Height returns the current height.
func (c *DeterministicClock) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Advance moves the clock forward by n and returns the new height.
func (c *DeterministicClock) Advance(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
	return c.height
}

// Set jumps to h. No monotonicity check: tests may rewind.
func (c *DeterministicClock) Set(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

// Reset returns the clock to its starting height.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = c.start
}
