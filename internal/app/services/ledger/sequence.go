package ledger

import "sync"

// SequenceSource supplies the monotonically non-decreasing logical sequence
// number (the block-number analogue) read by the ledger at mutation time. It
// is the only notion of ordering the snapshot machinery depends on.
type SequenceSource interface {
	Current() uint64
}

// Counter is a host-advanced SequenceSource. The hosting environment ticks
// it; the ledger never advances it on its own.
type Counter struct {
	mu      sync.Mutex
	current uint64
}

var _ SequenceSource = (*Counter)(nil)

// NewCounter creates a counter starting at the given sequence number.
func NewCounter(start uint64) *Counter {
	return &Counter{current: start}
}

// Current returns the current sequence number.
func (c *Counter) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance increments the counter and returns the new value.
func (c *Counter) Advance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current
}
