package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
)

type mockAccountDirectory struct {
	mock.Mock
}

func (m *mockAccountDirectory) FindByID(ctx context.Context, id uuid.UUID) (*entitlementDomain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlementDomain.Account), args.Error(1)
}

type notifierFixture struct {
	notifier *Notifier
	api      *fakeBotAPI
	accounts *mockAccountDirectory
}

func newNotifierFixture() *notifierFixture {
	f := &notifierFixture{
		api:      &fakeBotAPI{},
		accounts: &mockAccountDirectory{},
	}
	f.notifier = NewNotifier(f.api, f.accounts, testCatalog(), testLogger())
	return f
}

func notifiedAccount(t *testing.T) *entitlementDomain.Account {
	t.Helper()
	account, err := entitlementDomain.NewAccount(sharedDomain.NewTelegramID(testTelegramID), "neo")
	require.NoError(t, err)
	return account
}

func consumedEvent(t *testing.T, routingKey string, payload any) *eventbus.ConsumedEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &eventbus.ConsumedEvent{
		EventID:    uuid.New(),
		RoutingKey: routingKey,
		OccurredAt: time.Now(),
		Payload:    raw,
	}
}

func TestNotifier_EventTypes(t *testing.T) {
	f := newNotifierFixture()
	assert.ElementsMatch(t, []string{
		"notification.expiry.due",
		"entitlement.window.deprovisioned",
	}, f.notifier.EventTypes())
}

func TestNotifier_ExpiryNotices(t *testing.T) {
	accountID := uuid.New()

	t.Run("warns before expiry with a renew button", func(t *testing.T) {
		f := newNotifierFixture()
		f.accounts.On("FindByID", mock.Anything, accountID).Return(notifiedAccount(t), nil)

		event := consumedEvent(t, expiryDueKey, expiryNoticePayload{
			WindowID:  uuid.New(),
			AccountID: accountID,
			ServerID:  "nl-1",
			Kind:      string(entitlementDomain.ThresholdExpiring),
			ExpiresAt: time.Now().Add(6*time.Hour + time.Minute),
		})
		require.NoError(t, f.notifier.Handle(context.Background(), event))

		msg := f.api.lastMessage(t)
		assert.Equal(t, testTelegramID, msg.ChatID)
		assert.Contains(t, msg.Text, "Amsterdam")
		assert.Contains(t, msg.Text, "ends in 6 h")
		assert.Equal(t, []string{cbBuy}, keyboardData(msg.ReplyMarkup))
	})

	t.Run("announces the expiry once the window closes", func(t *testing.T) {
		f := newNotifierFixture()
		f.accounts.On("FindByID", mock.Anything, accountID).Return(notifiedAccount(t), nil)

		event := consumedEvent(t, expiryDueKey, expiryNoticePayload{
			WindowID:  uuid.New(),
			AccountID: accountID,
			ServerID:  "nl-1",
			Kind:      string(entitlementDomain.ThresholdExpired),
			ExpiresAt: time.Now().Add(-time.Minute),
		})
		require.NoError(t, f.notifier.Handle(context.Background(), event))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "has ended")
		assert.Equal(t, []string{cbBuy}, keyboardData(msg.ReplyMarkup))
	})

	t.Run("drops notices with an unknown kind", func(t *testing.T) {
		f := newNotifierFixture()

		event := consumedEvent(t, expiryDueKey, expiryNoticePayload{
			WindowID:  uuid.New(),
			AccountID: accountID,
			ServerID:  "nl-1",
			Kind:      "someday",
		})
		require.NoError(t, f.notifier.Handle(context.Background(), event))

		assert.Empty(t, f.api.sent)
		f.accounts.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("rejects an unreadable payload", func(t *testing.T) {
		f := newNotifierFixture()

		event := &eventbus.ConsumedEvent{RoutingKey: expiryDueKey, Payload: json.RawMessage(`{"window_id":`)}
		assert.Error(t, f.notifier.Handle(context.Background(), event))
	})
}

func TestNotifier_Deprovisioned(t *testing.T) {
	accountID := uuid.New()

	t.Run("announces an operator revocation", func(t *testing.T) {
		f := newNotifierFixture()
		f.accounts.On("FindByID", mock.Anything, accountID).Return(notifiedAccount(t), nil)

		event := consumedEvent(t, deprovisionedKey, deprovisionPayload{
			WindowID:  uuid.New(),
			AccountID: accountID,
			ServerID:  "de-1",
			Reason:    string(entitlementDomain.ReasonRevoked),
		})
		require.NoError(t, f.notifier.Handle(context.Background(), event))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "revoked by the operator")
		assert.Contains(t, msg.Text, "Frankfurt")
		assert.Nil(t, msg.ReplyMarkup, "a revoked user is not invited to renew")
	})

	t.Run("stays silent when expiry caused the deprovision", func(t *testing.T) {
		f := newNotifierFixture()

		event := consumedEvent(t, deprovisionedKey, deprovisionPayload{
			WindowID:  uuid.New(),
			AccountID: accountID,
			ServerID:  "nl-1",
			Reason:    string(entitlementDomain.ReasonExpired),
		})
		require.NoError(t, f.notifier.Handle(context.Background(), event))

		assert.Empty(t, f.api.sent)
		f.accounts.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})
}

func TestNotifier_Delivery(t *testing.T) {
	accountID := uuid.New()

	expiredEvent := func(t *testing.T) *eventbus.ConsumedEvent {
		return consumedEvent(t, expiryDueKey, expiryNoticePayload{
			WindowID:  uuid.New(),
			AccountID: accountID,
			ServerID:  "nl-1",
			Kind:      string(entitlementDomain.ThresholdExpired),
		})
	}

	t.Run("acks a notice for an account that no longer exists", func(t *testing.T) {
		f := newNotifierFixture()
		f.accounts.On("FindByID", mock.Anything, accountID).Return(nil, nil)

		require.NoError(t, f.notifier.Handle(context.Background(), expiredEvent(t)))
		assert.Empty(t, f.api.sent)
	})

	t.Run("suppresses notices to banned accounts", func(t *testing.T) {
		f := newNotifierFixture()
		account := notifiedAccount(t)
		account.Ban()
		f.accounts.On("FindByID", mock.Anything, accountID).Return(account, nil)

		require.NoError(t, f.notifier.Handle(context.Background(), expiredEvent(t)))
		assert.Empty(t, f.api.sent)
	})

	t.Run("asks for redelivery when the directory is unreachable", func(t *testing.T) {
		f := newNotifierFixture()
		f.accounts.On("FindByID", mock.Anything, accountID).Return(nil, errors.New("connection refused"))

		err := f.notifier.Handle(context.Background(), expiredEvent(t))
		assert.Error(t, err)
		assert.Empty(t, f.api.sent)
	})

	t.Run("acks a chat that cannot be reached", func(t *testing.T) {
		f := newNotifierFixture()
		f.api.sendErr = errors.New("Forbidden: bot was blocked by the user")
		f.accounts.On("FindByID", mock.Anything, accountID).Return(notifiedAccount(t), nil)

		require.NoError(t, f.notifier.Handle(context.Background(), expiredEvent(t)))
		assert.Len(t, f.api.sent, 1, "the send is attempted exactly once")
	})

	t.Run("ignores routing keys it never subscribed to", func(t *testing.T) {
		f := newNotifierFixture()

		event := &eventbus.ConsumedEvent{RoutingKey: "billing.invoice.paid", Payload: json.RawMessage(`{}`)}
		require.NoError(t, f.notifier.Handle(context.Background(), event))
		assert.Empty(t, f.api.sent)
	})
}
