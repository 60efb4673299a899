// Package sse fans events out to Server-Sent Events subscribers.
//
// Events carry an optional Topic (for the enrichment service, the run id) so a
// subscriber can follow a single stream without seeing the others.
package sse

import "context"

// Event is one SSE frame: "event: <Type>\nid: <ID>\ndata: <json>\n\n".
type Event struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data"`
	ID    string `json:"id,omitempty"`
	// Retry is the client reconnect delay in milliseconds.
	Retry int `json:"retry,omitempty"`
}

// Publisher sends events to the broker.
type Publisher interface {
	// Publish never blocks; it fails when the broker buffer is full.
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the broker.
type Subscriber interface {
	// Subscribe returns the event channel and a cleanup func. The channel
	// closes on unsubscribe, ctx cancellation or broker shutdown. A nil
	// channel means the subscription was rejected.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
}

// Broker manages SSE subscribers and event distribution.
type Broker interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Stop() error
	ClientCount() int
}

// EventFilter reports whether a subscriber wants event.
type EventFilter func(event Event) bool

// ClientOptions configures a single subscription.
type ClientOptions struct {
	Filter     EventFilter
	BufferSize int
}

const (
	eventTypeConnected = "connected"
)
