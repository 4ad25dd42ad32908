package server

import (
	"sync"

	"github.com/spigell/md-matcher/internal/matching"
)

// outcomeCache keeps the most recent outcomes so feedback can refer to them
// by request id. The oldest entry is evicted first.
type outcomeCache struct {
	mu    sync.Mutex
	size  int
	order []string
	items map[string]*matching.Outcome
}

func newOutcomeCache(size int) *outcomeCache {
	return &outcomeCache{size: size, items: make(map[string]*matching.Outcome, size)}
}

func (c *outcomeCache) put(out *matching.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[out.RequestID]; !ok {
		c.order = append(c.order, out.RequestID)
	}
	c.items[out.RequestID] = out

	for len(c.order) > c.size {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *outcomeCache) get(id string) *matching.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id]
}
