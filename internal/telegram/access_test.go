package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/provisioning"
)

func TestBot_Trial(t *testing.T) {
	t.Run("successfully activates on the default server", func(t *testing.T) {
		f := newBotFixture()
		account := testAccount()
		f.expectAccount(account)

		expiresAt := time.Now().Add(3 * 24 * time.Hour)
		f.trials.On("Handle", mock.Anything, mock.MatchedBy(func(cmd entitlementCommands.ActivateTrialCommand) bool {
			return cmd.AccountID == account.AccountID && cmd.ServerID == "nl-1"
		})).Return(&entitlementCommands.ActivateTrialResult{
			WindowID:  uuid.New(),
			ServerID:  "nl-1",
			ExpiresAt: expiresAt,
		}, nil)

		f.bot.HandleUpdate(context.Background(), callbackUpdate(cbTrial, testUser()))

		msgs := f.api.messages()
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[0].Text, "Trial activated")

		require.Len(t, f.api.photos(), 1, "trial delivers the config QR code")
		clientID := provisioning.DeriveClientID(account.AccountID, "nl-1")
		link := msgs[len(msgs)-1]
		assert.Contains(t, link.Text, "vless://"+clientID.String()+"@nl1.example.com:443")
		assert.Contains(t, link.Text, "Fallback for networks that block direct connections")
		f.trials.AssertExpectations(t)
	})

	t.Run("points a repeat claimer at the plans", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.trials.On("Handle", mock.Anything, mock.Anything).
			Return(nil, entitlementDomain.ErrTrialAlreadyUsed)

		f.bot.HandleUpdate(context.Background(), callbackUpdate(cbTrial, testUser()))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "already used your free trial")
		data := keyboardData(msg.ReplyMarkup)
		assert.Contains(t, data, cbBuy)
		assert.NotContains(t, data, cbTrial)
	})

	t.Run("says when the trial is switched off", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.trials.On("Handle", mock.Anything, mock.Anything).
			Return(nil, entitlementDomain.ErrTrialDisabled)

		f.bot.HandleUpdate(context.Background(), callbackUpdate(cbTrial, testUser()))

		assert.Contains(t, f.api.lastMessage(t).Text, "not available right now")
	})

	t.Run("redirects to status when access is already live", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.trials.On("Handle", mock.Anything, mock.Anything).
			Return(nil, entitlementDomain.ErrActiveWindowExists)

		f.bot.HandleUpdate(context.Background(), callbackUpdate(cbTrial, testUser()))

		assert.Contains(t, f.api.lastMessage(t).Text, "/status")
	})
}

func TestBot_ConfigRequest(t *testing.T) {
	now := time.Now()

	t.Run("successfully reissues the config for an active window", func(t *testing.T) {
		f := newBotFixture()
		account := testAccount()
		f.expectAccount(account)
		f.overview.On("Handle", mock.Anything, mock.Anything).Return(&entitlementQueries.AccountOverviewDTO{
			AccountID:  account.AccountID,
			TelegramID: testTelegramID,
			Windows: []entitlementQueries.WindowDTO{
				{WindowID: uuid.New(), ServerID: "nl-1", Status: "active", ExpiresAt: now.Add(time.Hour), Active: true},
			},
		}, nil)

		f.bot.HandleUpdate(context.Background(), callbackUpdate("cfg:nl-1", testUser()))

		require.Len(t, f.api.photos(), 1)
		clientID := provisioning.DeriveClientID(account.AccountID, "nl-1")
		assert.Contains(t, f.api.lastMessage(t).Text, clientID.String())
	})

	t.Run("refuses when the window has lapsed", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.overview.On("Handle", mock.Anything, mock.Anything).Return(&entitlementQueries.AccountOverviewDTO{
			TelegramID: testTelegramID,
			Windows: []entitlementQueries.WindowDTO{
				{WindowID: uuid.New(), ServerID: "nl-1", Status: "active", ExpiresAt: now.Add(-time.Minute), Active: false},
			},
		}, nil)

		f.bot.HandleUpdate(context.Background(), callbackUpdate("cfg:nl-1", testUser()))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "no active access")
		assert.Equal(t, []string{cbBuy}, keyboardData(msg.ReplyMarkup))
		assert.Empty(t, f.api.photos())
	})

	t.Run("refuses a server the account never bought", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.overview.On("Handle", mock.Anything, mock.Anything).Return(&entitlementQueries.AccountOverviewDTO{
			TelegramID: testTelegramID,
			Windows: []entitlementQueries.WindowDTO{
				{WindowID: uuid.New(), ServerID: "nl-1", Status: "active", ExpiresAt: now.Add(time.Hour), Active: true},
			},
		}, nil)

		f.bot.HandleUpdate(context.Background(), callbackUpdate("cfg:de-1", testUser()))

		assert.Contains(t, f.api.lastMessage(t).Text, "no active access")
	})
}
