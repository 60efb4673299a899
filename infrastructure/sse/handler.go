package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

const sseContentType = "text/event-stream"

// HandlerOptions configures Handler.
type HandlerOptions struct {
	// Snapshot, when set, is written right after the connected frame so a
	// late subscriber starts from the current state instead of waiting for
	// the next change.
	Snapshot func(ctx context.Context) (Event, error)
	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

// Handler streams broker events to one HTTP client until it disconnects.
func Handler(broker Subscriber, logger infralogger.Logger, hopts HandlerOptions, opts ...ClientOption) gin.HandlerFunc {
	heartbeat := hopts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// Subscribe before the snapshot so nothing published in between is lost.
		eventChan, cleanup := broker.Subscribe(ctx, opts...)
		defer cleanup()

		if eventChan == nil {
			logger.Warn("SSE subscription rejected (max clients reached)")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
			return
		}

		var snapshot *Event
		if hopts.Snapshot != nil {
			ev, err := hopts.Snapshot(ctx)
			if err != nil {
				logger.Warn("SSE snapshot failed", infralogger.Error(err))
				_ = c.Error(err)
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			snapshot = &ev
		}

		// Streams outlive the server write timeout.
		_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

		SetSSEHeaders(c.Writer)
		c.Status(http.StatusOK)

		if err := writeEvent(c.Writer, connectedEvent()); err != nil {
			logger.Debug("SSE connect write failed", infralogger.Error(err))
			return
		}
		if snapshot != nil {
			if err := writeEvent(c.Writer, *snapshot); err != nil {
				return
			}
		}

		logger.Debug("SSE client connected", infralogger.String("remote_addr", c.ClientIP()))
		streamEvents(ctx, c.Writer, eventChan, heartbeat, logger)
	}
}

func connectedEvent() Event {
	return Event{
		Type: eventTypeConnected,
		Data: map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)},
	}
}

func streamEvents(ctx context.Context, w gin.ResponseWriter, events <-chan Event, heartbeat time.Duration, logger infralogger.Logger) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				logger.Debug("SSE write failed (client likely disconnected)",
					infralogger.Error(err),
					infralogger.String("event_type", event.Type),
				)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}
			w.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// WriteEvent encodes one event in SSE wire format.
func WriteEvent(w io.Writer, event Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return fmt.Errorf("write retry: %w", err)
		}
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err = fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}

func writeEvent(w gin.ResponseWriter, event Event) error {
	if err := WriteEvent(w, event); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// SetSSEHeaders sets the event-stream response headers.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", sseContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
