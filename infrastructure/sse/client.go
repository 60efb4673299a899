package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var clientIDCounter atomic.Int64

type client struct {
	id      string
	events  chan Event
	filter  EventFilter
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	closeMu sync.Mutex
}

func newClient(ctx context.Context, bufferSize int, filter EventFilter) *client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &client{
		id:     generateClientID(),
		events: make(chan Event, bufferSize),
		filter: filter,
		ctx:    clientCtx,
		cancel: cancel,
	}
}

func generateClientID() string {
	return fmt.Sprintf("sub-%d", clientIDCounter.Add(1))
}

// close is safe to call more than once.
func (c *client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return
	}

	c.closed.Store(true)
	c.cancel()
	close(c.events)
}

func (c *client) isClosed() bool {
	return c.closed.Load()
}

// send reports false only when the subscriber buffer is full. Filtered
// events count as delivered.
func (c *client) send(event Event) bool {
	if c.filter != nil && !c.filter(event) {
		return true
	}

	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.isClosed() {
		return true
	}

	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}
