package notifier

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/infrastructure/events"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// DefaultStream is the Redis stream that carries run events.
const DefaultStream = "enrichment-run-events"

const (
	bridgeBatchSize = 50
	bridgeBlock     = 5 * time.Second
	bridgeBackoff   = time.Second
	// bridgePollInterval applies when the bridge does not block on reads.
	bridgePollInterval = 20 * time.Millisecond
)

// StreamNotifier appends events to a Redis stream so every service instance
// can relay them to its own observers.
type StreamNotifier struct {
	publisher *events.Publisher
}

// NewStreamNotifier returns nil when client is nil.
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64) *StreamNotifier {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamNotifier{publisher: events.NewPublisher(client, stream, maxLen)}
}

// Notify appends one entry.
func (n *StreamNotifier) Notify(ctx context.Context, event Event) error {
	env, err := events.NewEnvelope(string(event.Type), event.RunID, event)
	if err != nil {
		return err
	}
	if _, err = n.publisher.Publish(ctx, env); err != nil {
		return err
	}
	return nil
}

// StreamBridge reads the run event stream through a consumer group and
// forwards each entry to a local notifier. Entries are acked only after
// they were forwarded, so a restart redelivers what was in flight.
type StreamBridge struct {
	consumer *events.Consumer
	target   Notifier
	log      infralogger.Logger
	block    time.Duration
}

// NewStreamBridge returns nil when client is nil. Each instance should use
// its own group so every instance sees every event.
func NewStreamBridge(client *redis.Client, stream, group, consumer string, target Notifier, log infralogger.Logger) *StreamBridge {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &StreamBridge{
		consumer: events.NewConsumer(client, stream, group, consumer),
		target:   target,
		log:      log,
		block:    bridgeBlock,
	}
}

// Run forwards events until ctx ends.
func (b *StreamBridge) Run(ctx context.Context) error {
	if err := b.consumer.EnsureGroup(ctx); err != nil {
		return err
	}
	if _, err := b.Drain(ctx, true); err != nil {
		b.log.Warn("Replaying pending run events failed", infralogger.Error(err))
	}

	for ctx.Err() == nil {
		n, err := b.Drain(ctx, false)
		switch {
		case err != nil && ctx.Err() == nil:
			b.log.Error("Reading run events failed", infralogger.Error(err))
			sleepCtx(ctx, bridgeBackoff)
		case n == 0 && b.block <= 0:
			sleepCtx(ctx, bridgePollInterval)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Drain processes one batch. With pending set it replays entries that were
// delivered earlier but never acked.
func (b *StreamBridge) Drain(ctx context.Context, pending bool) (int, error) {
	var (
		msgs []events.Message
		err  error
	)
	if pending {
		msgs, err = b.consumer.Pending(ctx, bridgeBatchSize)
	} else {
		msgs, err = b.consumer.Read(ctx, bridgeBatchSize, b.block)
	}
	if err != nil {
		return 0, err
	}

	forwarded := 0
	for _, msg := range msgs {
		if msg.Err != nil {
			b.log.Warn("Dropping undecodable run event",
				infralogger.String("stream_id", msg.StreamID),
				infralogger.Error(msg.Err),
			)
			b.ack(ctx, msg.StreamID)
			continue
		}

		var ev Event
		if decodeErr := msg.Envelope.Decode(&ev); decodeErr != nil {
			b.log.Warn("Dropping malformed run event", infralogger.Error(decodeErr))
			b.ack(ctx, msg.StreamID)
			continue
		}
		if notifyErr := b.target.Notify(ctx, ev); notifyErr != nil {
			b.log.Warn("Forwarding run event failed",
				infralogger.String("run_id", ev.RunID),
				infralogger.Error(notifyErr),
			)
			continue
		}
		b.ack(ctx, msg.StreamID)
		forwarded++
	}
	return forwarded, nil
}

// SetBlock overrides how long Run waits for new entries. Zero or negative
// polls instead of blocking.
func (b *StreamBridge) SetBlock(d time.Duration) {
	b.block = d
}

func (b *StreamBridge) ack(ctx context.Context, id string) {
	if err := b.consumer.Ack(ctx, id); err != nil {
		b.log.Warn("Acking run event failed", infralogger.String("stream_id", id), infralogger.Error(err))
	}
}
