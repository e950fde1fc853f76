package outbox

import (
	"context"
	"time"
)

// Repository stores outbox rows. Writes happen inside the same
// transaction as the aggregate they belong to; reads feed the single
// publishing processor.
type Repository interface {
	// Save stores one message.
	Save(ctx context.Context, msg *Message) error

	// SaveBatch stores all of an aggregate's messages in order.
	SaveBatch(ctx context.Context, msgs []*Message) error

	// GetUnpublished returns pending messages, oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)

	// MarkPublished records successful delivery to the broker.
	MarkPublished(ctx context.Context, id int64) error

	// MarkFailed records a delivery failure and when to try again.
	MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error

	// MarkDead parks a message that exhausted its retries.
	MarkDead(ctx context.Context, id int64, reason string) error

	// GetFailed returns failed messages whose retry time has come.
	GetFailed(ctx context.Context, maxRetries, limit int) ([]*Message, error)

	// DeleteOld drops published messages past the retention window
	// and reports how many went.
	DeleteOld(ctx context.Context, olderThanDays int) (int64, error)
}
