package emitter

import (
	"context"
	"sync"

	"github.com/BYTE-6D65/movement/pkg/event"
)

// Collector keeps the most recent events in memory, e.g. for a dashboard.
type Collector struct {
	name  string
	limit int

	mu     sync.Mutex
	events []event.Event
	notify chan struct{}
}

// NewCollector creates a collector keeping at most limit events.
func NewCollector(name string, limit int) *Collector {
	if limit <= 0 {
		limit = 100
	}
	return &Collector{
		name:   name,
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

func (c *Collector) ID() string   { return "collector:" + c.name }
func (c *Collector) Type() string { return "collector" }

// Emit stores evt, dropping the oldest event once the limit is reached.
func (c *Collector) Emit(_ context.Context, evt event.Event) error {
	c.mu.Lock()
	c.events = append(c.events, evt)
	if over := len(c.events) - c.limit; over > 0 {
		c.events = c.events[over:]
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events returns the collected events, oldest first.
func (c *Collector) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Notify receives a value after new events arrive.
func (c *Collector) Notify() <-chan struct{} {
	return c.notify
}

func (c *Collector) Close() error { return nil }
