package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/odvcencio/tandem/pkg/bus"
	"github.com/odvcencio/tandem/pkg/logging"
)

const busPublishTimeout = 2 * time.Second

// BusMessage is the wire form of a file event on the message bus.
type BusMessage struct {
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// BusForwarder implements EventForwarder by publishing file events to a
// MessageBus under <prefix>.<event type>. Other event types are skipped.
type BusForwarder struct {
	bus    bus.MessageBus
	prefix string
	logger *slog.Logger
}

// NewBusForwarder creates a forwarder that sends hub file events to b.
func NewBusForwarder(b bus.MessageBus, prefix string, logger *slog.Logger) *BusForwarder {
	return &BusForwarder{
		bus:    b,
		prefix: prefix,
		logger: logging.For(logger, logging.CategoryBus),
	}
}

// BroadcastEvent implements EventForwarder.
func (bf *BusForwarder) BroadcastEvent(event Event) {
	if bf == nil || bf.bus == nil || !isFileEvent(event.Type) {
		return
	}
	payload, ok := event.Payload.(FilePayload)
	if !ok {
		return
	}
	data, err := json.Marshal(BusMessage{
		Type:      event.Type,
		Path:      payload.Path,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
	defer cancel()
	subject := bus.Subject(bf.prefix, event.Type)
	if err := bf.bus.Publish(ctx, subject, data); err != nil {
		bf.logger.Warn("publish failed", "subject", subject, "error", err)
	}
}
