package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
	"github.com/pavelzhukov/raylink/pkg/config"
)

const (
	expiryDueKey     = "notification.expiry.due"
	deprovisionedKey = "entitlement.window.deprovisioned"
)

// AccountDirectory resolves account ids to their chat identity. The
// entitlement account repository satisfies it.
type AccountDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entitlementDomain.Account, error)
}

// Notifier turns subscription lifecycle events into user-facing messages:
// the pre-expiry warning, the expired notice, and the revocation notice.
//
// Emission upstream is at-most-once per window and threshold; delivery here
// is best-effort. A user who blocked the bot fails the send forever, so send
// failures are logged and acknowledged rather than redelivered.
type Notifier struct {
	api      BotAPI
	accounts AccountDirectory
	catalog  *config.Catalog
	logger   *slog.Logger
}

// NewNotifier creates a new Notifier.
func NewNotifier(api BotAPI, accounts AccountDirectory, catalog *config.Catalog, logger *slog.Logger) *Notifier {
	return &Notifier{
		api:      api,
		accounts: accounts,
		catalog:  catalog,
		logger:   logger,
	}
}

// EventTypes returns the routing keys this consumer handles.
func (n *Notifier) EventTypes() []string {
	return []string{expiryDueKey, deprovisionedKey}
}

type expiryNoticePayload struct {
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

type deprovisionPayload struct {
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
	Reason    string    `json:"reason"`
}

// Handle renders and sends one notice. Only a failed account lookup returns
// an error; everything after that point is acknowledged so the bus never
// loops on an undeliverable chat.
func (n *Notifier) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	switch event.RoutingKey {
	case expiryDueKey:
		var payload expiryNoticePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode expiry notice payload: %w", err)
		}
		text := n.expiryText(payload)
		if text == "" {
			n.logger.Warn("expiry notice with unknown kind", "kind", payload.Kind, "window_id", payload.WindowID)
			return nil
		}
		return n.deliver(ctx, payload.AccountID, text, true)

	case deprovisionedKey:
		var payload deprovisionPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode deprovision payload: %w", err)
		}
		// Expiry already produced its own notice through the threshold
		// ladder; only operator revocations are worth a message here.
		if payload.Reason != string(entitlementDomain.ReasonRevoked) {
			return nil
		}
		text := fmt.Sprintf("⛔ Your access to <b>%s</b> was revoked by the operator.", n.serverName(payload.ServerID))
		return n.deliver(ctx, payload.AccountID, text, false)

	default:
		n.logger.Warn("notifier received unexpected routing key", "routing_key", event.RoutingKey)
		return nil
	}
}

func (n *Notifier) expiryText(payload expiryNoticePayload) string {
	name := n.serverName(payload.ServerID)
	switch payload.Kind {
	case string(entitlementDomain.ThresholdExpiring):
		return fmt.Sprintf("⏳ Your access to <b>%s</b> ends %s (%s). Renew now to stay connected.",
			name,
			expiryLeft(time.Now(), payload.ExpiresAt),
			payload.ExpiresAt.UTC().Format(statusTimeFormat),
		)
	case string(entitlementDomain.ThresholdExpired):
		return fmt.Sprintf("🔒 Your access to <b>%s</b> has ended. Renew any time to reconnect.", name)
	default:
		return ""
	}
}

func (n *Notifier) deliver(ctx context.Context, accountID uuid.UUID, text string, renewable bool) error {
	account, err := n.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve account %s: %w", accountID, err)
	}
	if account == nil {
		n.logger.Warn("notice for unknown account dropped", "account_id", accountID)
		return nil
	}
	if account.IsBanned() {
		n.logger.Debug("notice for banned account suppressed", "account_id", accountID)
		return nil
	}

	msg := tgbotapi.NewMessage(account.TelegramID().Int64(), text)
	msg.ParseMode = tgbotapi.ModeHTML
	if renewable {
		msg.ReplyMarkup = renewKeyboard()
	}
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("notice undeliverable",
			"account_id", accountID,
			"telegram_id", account.TelegramID().Int64(),
			"error", err,
		)
	}
	return nil
}

func (n *Notifier) serverName(serverID string) string {
	if server, ok := n.catalog.ServerByID(serverID); ok {
		return serverLabel(server)
	}
	return serverID
}

// expiryLeft renders the remaining time coarsely, the way a person would
// say it.
func expiryLeft(now, expiresAt time.Time) string {
	left := expiresAt.Sub(now)
	switch {
	case left <= 0:
		return "now"
	case left < time.Hour:
		return fmt.Sprintf("in %d min", int(left.Minutes()))
	case left < 48*time.Hour:
		return fmt.Sprintf("in %d h", int(left.Hours()))
	default:
		return fmt.Sprintf("in %d days", int(left.Hours()/24))
	}
}

var _ eventbus.EventConsumer = (*Notifier)(nil)
