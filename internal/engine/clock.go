package engine

import (
	"sync/atomic"

	"github.com/roach88/streamledger/internal/ir"
)

// Clock supplies the current block height.
//
// Implementations must be monotonically non-decreasing: a later call never
// returns a smaller height than an earlier one.
type Clock interface {
	Height() uint64
}

// ManualClock is a Clock whose height is set explicitly by the host
// (the CLI passes --height; replay sets each command's recorded height).
//
// Thread-safety: ManualClock is safe for concurrent use (atomic operations).
type ManualClock struct {
	height atomic.Uint64
}

// NewManualClock creates a clock starting at the given height.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.height.Store(start)
	return c
}

// Height returns the current height.
func (c *ManualClock) Height() uint64 {
	return c.height.Load()
}

// Set moves the clock to h. Moving backwards is rejected with
// INVALID_ARGUMENT; setting the current height again is a no-op.
func (c *ManualClock) Set(h uint64) error {
	for {
		cur := c.height.Load()
		if h < cur {
			return ir.NewError(ir.ErrCodeInvalidArgument, "height %d is below current height %d", h, cur)
		}
		if c.height.CompareAndSwap(cur, h) {
			return nil
		}
	}
}

// Advance moves the clock forward by n and returns the new height.
func (c *ManualClock) Advance(n uint64) uint64 {
	return c.height.Add(n)
}

// BlockDelta returns the number of vesting blocks elapsed at height at for
// a schedule running from start to end: clamp(at - start, 0, end - start).
func BlockDelta(start, end, at uint64) uint64 {
	if at <= start || end <= start {
		return 0
	}
	if at >= end {
		return end - start
	}
	return at - start
}
