package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventConsumer reacts to domain events. Implementations declare the
// routing keys they want and get called once per delivered event.
type EventConsumer interface {
	// EventTypes lists routing keys, e.g. entitlement.window.expired.
	EventTypes() []string

	Handle(ctx context.Context, event *ConsumedEvent) error
}

// ConsumedEvent is the wire envelope the outbox processor publishes.
// Payload stays raw; each consumer decodes the event types it knows.
type ConsumedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	RoutingKey    string          `json:"routing_key"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      EventMetadata   `json:"metadata,omitempty"`
}

// EventMetadata carries the causation chain across the wire.
type EventMetadata struct {
	AccountID     uuid.UUID `json:"account_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
}

// Consumer is the transport side: it owns the broker connection and
// feeds registered EventConsumers.
type Consumer interface {
	// Start blocks until the context ends or the transport fails.
	Start(ctx context.Context) error

	RegisterConsumer(consumer EventConsumer)

	Close() error
}
