package notifier

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/infrastructure/sse"
)

// SSENotifier publishes events to the local SSE broker, keyed by run id.
type SSENotifier struct {
	publisher sse.Publisher
}

// NewSSENotifier wraps a broker.
func NewSSENotifier(publisher sse.Publisher) *SSENotifier {
	return &SSENotifier{publisher: publisher}
}

// Notify publishes without blocking.
func (n *SSENotifier) Notify(ctx context.Context, event Event) error {
	if err := n.publisher.Publish(ctx, ToSSE(event)); err != nil {
		return fmt.Errorf("publish %s for run %s: %w", event.Type, event.RunID, err)
	}
	return nil
}

// ToSSE converts an event to an SSE frame whose topic is the run id.
func ToSSE(event Event) sse.Event {
	return sse.Event{Type: string(event.Type), Topic: event.RunID, Data: event}
}
