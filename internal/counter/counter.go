// Package counter is a small demonstration module for server push: a
// client subscribes by calling counter/getCounts and then receives the
// shared counter value as a notification on every tick.
package counter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpcgate/rpcgate/internal/logging"
	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/schema"
)

// ModuleName is the name the counter module registers under.
const ModuleName = "counter"

// EventName is the event the tick notifications are published as.
const EventName = "counter/getCounts"

// Counter owns the shared count and the subscriber set. One instance
// serves every connection.
type Counter struct {
	mu      sync.Mutex
	clients map[modules.Caller]struct{}
	count   float64
}

// New returns a counter with no subscribers.
func New() *Counter {
	return &Counter{clients: make(map[modules.Caller]struct{})}
}

// Definition declares the module: a single public getCounts method
// whose interesting output arrives as emitted events, not as a result.
func (c *Counter) Definition() *modules.Definition {
	return &modules.Definition{
		Schema: map[string]*modules.Method{
			"getCounts": {
				Public:      true,
				Description: "Subscribe to the periodically updated counter",
				Emit: &schema.Shape{
					Required: []string{"counter"},
					Properties: map[string]*schema.Shape{
						"counter": {Type: schema.TypeNumber, Description: "Current count"},
					},
				},
			},
		},
		New: func() modules.Module { return c },
	}
}

// Invoke implements modules.Module.
func (c *Counter) Invoke(ctx context.Context, method string, params map[string]any, caller modules.Caller) (map[string]any, error) {
	if method != "getCounts" {
		return nil, modules.ErrUnknownMethod
	}
	c.mu.Lock()
	c.clients[caller] = struct{}{}
	c.mu.Unlock()
	return map[string]any{}, nil
}

// Run ticks until ctx is cancelled, incrementing the count and pushing
// it to every subscriber. A subscriber whose transport cannot take the
// push is dropped.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Counter) tick() {
	c.mu.Lock()
	c.count++
	count := c.count
	clients := make([]modules.Caller, 0, len(c.clients))
	for client := range c.clients {
		clients = append(clients, client)
	}
	c.mu.Unlock()

	for _, client := range clients {
		if err := client.Emit(EventName, map[string]any{"counter": count}); err != nil {
			logging.Debug("dropping counter subscriber", zap.Error(err))
			c.mu.Lock()
			delete(c.clients, client)
			c.mu.Unlock()
		}
	}
}
