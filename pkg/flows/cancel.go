package flows

import "sync"

// linkCanceller hands a cancel from CancelMagicLink to whichever magic link
// flow is running. A cancel that arrives while none is running is held and
// stops the next one before it sends anything.
type linkCanceller struct {
	mu      sync.Mutex
	stop    func()
	pending bool
}

// begin registers stop for a flow about to run. It returns false, consuming
// the held cancel, when the flow must not start.
func (c *linkCanceller) begin(stop func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		c.pending = false
		return false
	}
	c.stop = stop
	return true
}

func (c *linkCanceller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = nil
}

func (c *linkCanceller) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		return
	}
	c.pending = true
}
