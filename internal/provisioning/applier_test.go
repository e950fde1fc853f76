package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
)

type upsertCall struct {
	email    string
	clientID uuid.UUID
}

type fakeClientStore struct {
	upserts  []upsertCall
	removals []string
	err      error
}

func (f *fakeClientStore) UpsertClient(ctx context.Context, email string, clientID uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.upserts = append(f.upserts, upsertCall{email: email, clientID: clientID})
	return true, nil
}

func (f *fakeClientStore) RemoveClient(ctx context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.removals = append(f.removals, email)
	return true, nil
}

func testApplier(serverID string) (*Applier, *fakeClientStore) {
	store := &fakeClientStore{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewApplier(serverID, store, logger), store
}

func windowEvent(t *testing.T, routingKey string, accountID uuid.UUID, serverID string) *eventbus.ConsumedEvent {
	t.Helper()

	windowID := uuid.New()
	payload, err := json.Marshal(map[string]any{
		"window_id":  windowID.String(),
		"account_id": accountID.String(),
		"server_id":  serverID,
	})
	require.NoError(t, err)

	return &eventbus.ConsumedEvent{
		EventID:       uuid.New(),
		AggregateID:   windowID,
		AggregateType: "entitlement.window",
		RoutingKey:    routingKey,
		OccurredAt:    time.Now(),
		Payload:       payload,
	}
}

func TestApplier_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("grants access when a window is provisioned", func(t *testing.T) {
		applier, store := testApplier("nl-1")
		accountID := uuid.New()

		err := applier.Handle(ctx, windowEvent(t, "entitlement.window.provisioned", accountID, "nl-1"))

		require.NoError(t, err)
		require.Len(t, store.upserts, 1)
		assert.Equal(t, ClientEmail(accountID), store.upserts[0].email)
		assert.Equal(t, DeriveClientID(accountID, "nl-1"), store.upserts[0].clientID)
		assert.Empty(t, store.removals)
	})

	t.Run("withdraws access when a window is deprovisioned", func(t *testing.T) {
		applier, store := testApplier("nl-1")
		accountID := uuid.New()

		err := applier.Handle(ctx, windowEvent(t, "entitlement.window.deprovisioned", accountID, "nl-1"))

		require.NoError(t, err)
		require.Len(t, store.removals, 1)
		assert.Equal(t, ClientEmail(accountID), store.removals[0])
		assert.Empty(t, store.upserts)
	})

	t.Run("acknowledges events for other servers untouched", func(t *testing.T) {
		applier, store := testApplier("nl-1")

		err := applier.Handle(ctx, windowEvent(t, "entitlement.window.provisioned", uuid.New(), "de-1"))

		require.NoError(t, err)
		assert.Empty(t, store.upserts)
		assert.Empty(t, store.removals)
	})

	t.Run("fails when the client store fails", func(t *testing.T) {
		applier, store := testApplier("nl-1")
		store.err = errors.New("config locked")

		err := applier.Handle(ctx, windowEvent(t, "entitlement.window.provisioned", uuid.New(), "nl-1"))

		assert.ErrorContains(t, err, "config locked")
	})

	t.Run("fails when the payload does not decode", func(t *testing.T) {
		applier, store := testApplier("nl-1")
		event := windowEvent(t, "entitlement.window.provisioned", uuid.New(), "nl-1")
		event.Payload = json.RawMessage(`{"account_id": 7}`)

		err := applier.Handle(ctx, event)

		assert.Error(t, err)
		assert.Empty(t, store.upserts)
	})
}

func TestApplier_EventTypes(t *testing.T) {
	applier, _ := testApplier("nl-1")

	assert.Equal(t,
		[]string{"entitlement.window.provisioned", "entitlement.window.deprovisioned"},
		applier.EventTypes(),
	)
}
