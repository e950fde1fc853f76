package eventbus

import "context"

// Publisher delivers serialized events to the broker. The outbox
// processor is its only producer-side caller, so delivery retries
// live there, not here.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}
