package engine

import "sync"

// Coordinator is the process-wide mutual-exclusion registry over markets.
// Strategy workers run on independent schedules; the coordinator guarantees no
// two of them hold a position in the same market at once.
type Coordinator struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{held: make(map[string]struct{})}
}

// TryAcquire reserves the market. The check and the set are one critical
// section, so concurrent acquirers can never both succeed.
func (c *Coordinator) TryAcquire(market string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.held[market]; taken {
		return false
	}
	c.held[market] = struct{}{}
	return true
}

func (c *Coordinator) Release(market string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, market)
}

func (c *Coordinator) Held(market string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, taken := c.held[market]
	return taken
}
