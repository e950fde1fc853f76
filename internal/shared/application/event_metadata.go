package application

import (
	"github.com/google/uuid"

	"github.com/pavelzhukov/raylink/internal/shared/domain"
)

// Satisfied by pointer events embedding domain.BaseEvent.
type metadataSetter interface {
	SetMetadata(metadata domain.EventMetadata)
}

// NewEventMetadata starts a causation chain for the events one command
// emits: a fresh correlation groups them, and the account ties them to
// whoever triggered the command.
func NewEventMetadata(accountID uuid.UUID) domain.EventMetadata {
	return domain.EventMetadata{
		CorrelationID: uuid.New(),
		CausationID:   uuid.New(),
		AccountID:     accountID,
	}
}

// ApplyEventMetadata stamps the chain onto every buffered event that
// can carry it. Handlers call it right before handing events to the
// outbox.
func ApplyEventMetadata(events []domain.DomainEvent, metadata domain.EventMetadata) {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
}
