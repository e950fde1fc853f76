package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/pavelzhukov/raylink/internal/shared/domain"
)

func TestNewBaseEvent(t *testing.T) {
	windowID := uuid.New()
	before := time.Now().UTC()

	event := domain.NewBaseEvent(windowID, "AccessWindow", "entitlement.window.provisioned")

	after := time.Now().UTC()

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, windowID, event.AggregateID())
	assert.Equal(t, "AccessWindow", event.AggregateType())
	assert.Equal(t, "entitlement.window.provisioned", event.RoutingKey())

	occurred := event.OccurredAt()
	assert.Equal(t, time.UTC, occurred.Location())
	assert.False(t, occurred.Before(before))
	assert.False(t, occurred.After(after))
}

func TestBaseEventIdentity(t *testing.T) {
	windowID := uuid.New()

	// Two occurrences on the same aggregate are still distinct events.
	first := domain.NewBaseEvent(windowID, "AccessWindow", "entitlement.window.provisioned")
	second := domain.NewBaseEvent(windowID, "AccessWindow", "entitlement.window.expired")

	assert.NotEqual(t, first.EventID(), second.EventID())
	assert.Equal(t, first.AggregateID(), second.AggregateID())
}

func TestBaseEventMetadata(t *testing.T) {
	event := domain.NewBaseEvent(uuid.New(), "AccessWindow", "entitlement.window.revoked")

	assert.Equal(t, domain.EventMetadata{}, event.Metadata(), "fresh events carry no causation chain")

	meta := domain.EventMetadata{
		CorrelationID: uuid.New(),
		CausationID:   uuid.New(),
		AccountID:     uuid.New(),
	}
	event.SetMetadata(meta)

	assert.Equal(t, meta, event.Metadata())
}
