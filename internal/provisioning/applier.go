// Package provisioning keeps the local Xray client list in step with
// subscription windows. It consumes window lifecycle events and applies
// them to the server this instance manages.
package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
)

const (
	windowProvisionedKey   = "entitlement.window.provisioned"
	windowDeprovisionedKey = "entitlement.window.deprovisioned"
)

// ClientStore is the slice of the Xray config manager the applier needs.
type ClientStore interface {
	UpsertClient(ctx context.Context, email string, clientID uuid.UUID) (bool, error)
	RemoveClient(ctx context.Context, email string) (bool, error)
}

// Applier materializes window lifecycle events into Xray clients. Each
// instance owns exactly one catalog server; events for other servers are
// acknowledged untouched so the instance running there can apply them.
type Applier struct {
	serverID string
	store    ClientStore
	logger   *slog.Logger
}

// NewApplier creates an applier for the given catalog server.
func NewApplier(serverID string, store ClientStore, logger *slog.Logger) *Applier {
	return &Applier{
		serverID: serverID,
		store:    store,
		logger:   logger,
	}
}

// EventTypes implements eventbus.EventConsumer.
func (a *Applier) EventTypes() []string {
	return []string{windowProvisionedKey, windowDeprovisionedKey}
}

// windowEventPayload carries the fields both window lifecycle events share.
type windowEventPayload struct {
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
}

// Handle implements eventbus.EventConsumer. Errors bubble up so the bus
// redelivers; an already-applied event is a clean no-op on redelivery.
func (a *Applier) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var payload windowEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.RoutingKey, err)
	}

	if payload.ServerID != a.serverID {
		a.logger.Debug("event targets another server",
			slog.String("server_id", payload.ServerID),
			slog.String("managed_server_id", a.serverID),
		)
		return nil
	}

	email := ClientEmail(payload.AccountID)

	switch event.RoutingKey {
	case windowProvisionedKey:
		changed, err := a.store.UpsertClient(ctx, email, DeriveClientID(payload.AccountID, payload.ServerID))
		if err != nil {
			return fmt.Errorf("provision client for window %s: %w", payload.WindowID, err)
		}
		a.logger.Info("client access granted",
			slog.String("window_id", payload.WindowID.String()),
			slog.String("account_id", payload.AccountID.String()),
			slog.Bool("changed", changed),
		)
	case windowDeprovisionedKey:
		removed, err := a.store.RemoveClient(ctx, email)
		if err != nil {
			return fmt.Errorf("deprovision client for window %s: %w", payload.WindowID, err)
		}
		a.logger.Info("client access withdrawn",
			slog.String("window_id", payload.WindowID.String()),
			slog.String("account_id", payload.AccountID.String()),
			slog.Bool("removed", removed),
		)
	default:
		a.logger.Warn("unexpected routing key", slog.String("routing_key", event.RoutingKey))
	}

	return nil
}

var _ eventbus.EventConsumer = (*Applier)(nil)
