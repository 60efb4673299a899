package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher appends envelopes to one stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewPublisher returns nil when client is nil. maxLen > 0 trims the stream
// approximately on every add.
func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the stream name.
func (p *Publisher) Stream() string { return p.stream }

// Publish writes env and returns its stream id.
func (p *Publisher) Publish(ctx context.Context, env Envelope) (string, error) {
	values, err := encodeValues(env)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish to stream %s: %w", p.stream, err)
	}
	return id, nil
}

// Message is one entry read through a consumer group.
type Message struct {
	StreamID string
	Envelope Envelope
	// Err is set when the entry could not be decoded. It should still be acked.
	Err error
}

// Consumer reads one stream through a consumer group.
type Consumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewConsumer returns nil when client is nil.
func NewConsumer(client *redis.Client, stream, group, consumer string) *Consumer {
	if client == nil {
		return nil
	}
	return &Consumer{client: client, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the stream and group if needed.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !isGroupExistsError(err) {
		return fmt.Errorf("create consumer group %s: %w", c.group, err)
	}
	return nil
}

// Pending reads entries delivered to this consumer but never acked.
func (c *Consumer) Pending(ctx context.Context, count int64) ([]Message, error) {
	return c.read(ctx, "0", count, -1)
}

// Read waits up to block for new entries. A zero or negative block returns at once.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	if block <= 0 {
		block = -1
	}
	return c.read(ctx, ">", count, block)
}

func (c *Consumer) read(ctx context.Context, start string, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, start},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream %s: %w", c.stream, err)
	}

	var out []Message
	for _, s := range streams {
		for _, msg := range s.Messages {
			env, decodeErr := decodeValues(msg.Values)
			out = append(out, Message{StreamID: msg.ID, Envelope: env, Err: decodeErr})
		}
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack stream %s: %w", c.stream, err)
	}
	return nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
