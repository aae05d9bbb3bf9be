package sim

import (
	"sync"

	"github.com/itohio/gopstat/pkg/swv"
)

// Clock is a fake millisecond clock. It only moves when asked to, so sweeps
// run instantly and deterministically.
type Clock struct {
	mu  sync.Mutex
	now uint32
}

var _ swv.Clock = (*Clock)(nil)

// NewClock returns a clock reading start.
func NewClock(start uint32) *Clock {
	return &Clock{now: start}
}

// Millis returns the current reading. It wraps at 2^32.
func (c *Clock) Millis() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Delay advances the clock by ms.
func (c *Clock) Delay(ms uint32) {
	c.Advance(ms)
}

// Advance moves the clock forward by ms.
func (c *Clock) Advance(ms uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}
