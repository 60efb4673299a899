package sse

import (
	"slices"
	"time"
)

// Defaults.
const (
	DefaultEventBufferSize   = 1000
	DefaultClientBufferSize  = 100
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxClients        = 1000
)

// Config holds broker configuration.
type Config struct {
	EventBufferSize   int           `yaml:"event_buffer_size"`
	ClientBufferSize  int           `yaml:"client_buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// MaxClients of 0 means unlimited.
	MaxClients int `yaml:"max_clients"`
}

// DefaultConfig returns the broker defaults.
func DefaultConfig() Config {
	return Config{
		EventBufferSize:   DefaultEventBufferSize,
		ClientBufferSize:  DefaultClientBufferSize,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
		MaxClients:        DefaultMaxClients,
	}
}

// BrokerOption configures a broker.
type BrokerOption func(*broker)

// WithEventBufferSize sets the publish buffer size.
func WithEventBufferSize(size int) BrokerOption {
	return func(b *broker) {
		if size > 0 {
			b.eventBufferSize = size
		}
	}
}

// WithClientBufferSize sets the default per-client buffer size.
func WithClientBufferSize(size int) BrokerOption {
	return func(b *broker) {
		if size > 0 {
			b.clientBufferSize = size
		}
	}
}

// WithMaxClients caps concurrent subscribers. Zero disables the cap.
func WithMaxClients(maxClients int) BrokerOption {
	return func(b *broker) {
		b.maxClients = maxClients
	}
}

// WithConfig applies every non-zero field of cfg.
func WithConfig(cfg Config) BrokerOption {
	return func(b *broker) {
		if cfg.EventBufferSize > 0 {
			b.eventBufferSize = cfg.EventBufferSize
		}
		if cfg.ClientBufferSize > 0 {
			b.clientBufferSize = cfg.ClientBufferSize
		}
		if cfg.HeartbeatInterval > 0 {
			b.heartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.ShutdownTimeout > 0 {
			b.shutdownTimeout = cfg.ShutdownTimeout
		}
		b.maxClients = cfg.MaxClients
	}
}

// ClientOption configures a subscription.
type ClientOption func(*ClientOptions)

// WithFilter sets the subscription filter. Later filters are ANDed.
func WithFilter(filter EventFilter) ClientOption {
	return func(opts *ClientOptions) {
		prev := opts.Filter
		if prev == nil {
			opts.Filter = filter
			return
		}
		opts.Filter = func(e Event) bool { return prev(e) && filter(e) }
	}
}

// WithBufferSize sets the subscription buffer size.
func WithBufferSize(size int) ClientOption {
	return func(opts *ClientOptions) {
		if size > 0 {
			opts.BufferSize = size
		}
	}
}

// WithTopicFilter passes only events published under topic.
func WithTopicFilter(topic string) ClientOption {
	return WithFilter(func(event Event) bool {
		return event.Topic == topic
	})
}

// WithTypeFilter passes only the listed event types.
func WithTypeFilter(types ...string) ClientOption {
	return WithFilter(func(event Event) bool {
		return slices.Contains(types, event.Type)
	})
}
