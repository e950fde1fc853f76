package telegram

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	deviceQueries "github.com/pavelzhukov/raylink/internal/devices/application/queries"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	paymentCommands "github.com/pavelzhukov/raylink/internal/payments/application/commands"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	"github.com/pavelzhukov/raylink/pkg/config"
)

const (
	testChatID      = int64(424242)
	testTelegramID  = int64(424242)
	adminTelegramID = int64(900001)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testCatalog() *config.Catalog {
	return &config.Catalog{
		DefaultServer: "nl-1",
		Servers: []config.Server{
			{ID: "nl-1", Label: "Amsterdam", Address: "nl1.example.com", Port: 443, SNI: "cdn.example.com", PublicKey: "pbk-nl", ShortID: "ab12", WSPort: 8443, WSPath: "/ws"},
			{ID: "de-1", Label: "Frankfurt", Address: "de1.example.com", Port: 443, SNI: "cdn.example.com", PublicKey: "pbk-de", ShortID: "cd34"},
		},
		Plans: []config.Plan{
			{ID: "month-1", Title: "1 month", Days: 30, Price: config.Price{Amount: 500, Currency: "USD"}, Stars: 50},
			{ID: "month-3", Title: "3 months", Days: 90, Price: config.Price{Amount: 1200, Currency: "USD"}},
		},
	}
}

// fakeBotAPI records everything the bot sends.
type fakeBotAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (f *fakeBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, f.sendErr
}

func (f *fakeBotAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBotAPI) messages() []tgbotapi.MessageConfig {
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeBotAPI) lastMessage(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs, "expected at least one message to be sent")
	return msgs[len(msgs)-1]
}

func (f *fakeBotAPI) photos() []tgbotapi.PhotoConfig {
	var out []tgbotapi.PhotoConfig
	for _, c := range f.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

// keyboardData flattens an inline keyboard into its callback payloads.
func keyboardData(markup any) []string {
	kb, ok := markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		return nil
	}
	var data []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				data = append(data, *btn.CallbackData)
			}
		}
	}
	return data
}

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) Handle(ctx context.Context, cmd entitlementCommands.RegisterAccountCommand) (*entitlementCommands.RegisterAccountResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlementCommands.RegisterAccountResult), args.Error(1)
}

type mockTrialActivator struct {
	mock.Mock
}

func (m *mockTrialActivator) Handle(ctx context.Context, cmd entitlementCommands.ActivateTrialCommand) (*entitlementCommands.ActivateTrialResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlementCommands.ActivateTrialResult), args.Error(1)
}

type mockPurchaseConfirmer struct {
	mock.Mock
}

func (m *mockPurchaseConfirmer) Handle(ctx context.Context, cmd entitlementCommands.ConfirmPurchaseCommand) (*entitlementCommands.ConfirmPurchaseResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlementCommands.ConfirmPurchaseResult), args.Error(1)
}

type mockInvoiceOpener struct {
	mock.Mock
}

func (m *mockInvoiceOpener) Handle(ctx context.Context, cmd paymentCommands.CreateInvoiceCommand) (*paymentCommands.CreateInvoiceResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentCommands.CreateInvoiceResult), args.Error(1)
}

type mockOverviewReader struct {
	mock.Mock
}

func (m *mockOverviewReader) Handle(ctx context.Context, query entitlementQueries.GetAccountOverviewQuery) (*entitlementQueries.AccountOverviewDTO, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlementQueries.AccountOverviewDTO), args.Error(1)
}

type mockDeviceReader struct {
	mock.Mock
}

func (m *mockDeviceReader) Handle(ctx context.Context, query deviceQueries.ListDevicesQuery) ([]deviceQueries.DeviceDTO, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]deviceQueries.DeviceDTO), args.Error(1)
}

type mockStatsReader struct {
	mock.Mock
}

func (m *mockStatsReader) Handle(ctx context.Context, query entitlementQueries.SystemStatsQuery) (*entitlementQueries.SystemStatsDTO, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlementQueries.SystemStatsDTO), args.Error(1)
}

type botFixture struct {
	bot       *Bot
	api       *fakeBotAPI
	accounts  *mockRegistrar
	trials    *mockTrialActivator
	purchases *mockPurchaseConfirmer
	invoices  *mockInvoiceOpener
	overview  *mockOverviewReader
	devices   *mockDeviceReader
	stats     *mockStatsReader
}

func newBotFixture() *botFixture {
	f := &botFixture{
		api:       &fakeBotAPI{},
		accounts:  &mockRegistrar{},
		trials:    &mockTrialActivator{},
		purchases: &mockPurchaseConfirmer{},
		invoices:  &mockInvoiceOpener{},
		overview:  &mockOverviewReader{},
		devices:   &mockDeviceReader{},
		stats:     &mockStatsReader{},
	}
	f.bot = NewBot(BotConfig{
		API:           f.api,
		Accounts:      f.accounts,
		Trials:        f.trials,
		Purchases:     f.purchases,
		Invoices:      f.invoices,
		Overview:      f.overview,
		Devices:       f.devices,
		Stats:         f.stats,
		Catalog:       testCatalog(),
		Logger:        testLogger(),
		Providers:     []string{entitlementCommands.ProviderCryptoPay, entitlementCommands.ProviderYooKassa},
		AdminIDs:      []int64{adminTelegramID},
		TrialEnabled:  true,
		TrialDays:     3,
		RetryAttempts: 1,
		RetryBase:     time.Millisecond,
	})
	return f
}

func (f *botFixture) expectAccount(result *entitlementCommands.RegisterAccountResult) {
	f.accounts.On("Handle", mock.Anything, mock.AnythingOfType("commands.RegisterAccountCommand")).
		Return(result, nil)
}

func testAccount() *entitlementCommands.RegisterAccountResult {
	return &entitlementCommands.RegisterAccountResult{AccountID: uuid.New()}
}

func commandUpdate(cmd string, from *tgbotapi.User) tgbotapi.Update {
	text := "/" + cmd
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text:     text,
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
			From:     from,
			Chat:     &tgbotapi.Chat{ID: testChatID},
		},
	}
}

func callbackUpdate(data string, from *tgbotapi.User) tgbotapi.Update {
	return tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			From:    from,
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
		},
	}
}

func testUser() *tgbotapi.User {
	return &tgbotapi.User{ID: testTelegramID, UserName: "neo"}
}

func TestBot_Start(t *testing.T) {
	t.Run("successfully greets and shows the trial", func(t *testing.T) {
		f := newBotFixture()
		f.accounts.On("Handle", mock.Anything, mock.MatchedBy(func(cmd entitlementCommands.RegisterAccountCommand) bool {
			return cmd.TelegramID.Int64() == testTelegramID && cmd.Username == "neo"
		})).Return(testAccount(), nil)

		f.bot.HandleUpdate(context.Background(), commandUpdate("start", testUser()))

		msg := f.api.lastMessage(t)
		assert.Equal(t, testChatID, msg.ChatID)
		assert.Contains(t, msg.Text, "Welcome to Raylink")
		assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
		assert.Contains(t, keyboardData(msg.ReplyMarkup), cbTrial)
		f.accounts.AssertExpectations(t)
	})

	t.Run("hides the trial button once the trial is used", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(&entitlementCommands.RegisterAccountResult{AccountID: uuid.New(), TrialUsed: true})

		f.bot.HandleUpdate(context.Background(), commandUpdate("start", testUser()))

		msg := f.api.lastMessage(t)
		assert.NotContains(t, keyboardData(msg.ReplyMarkup), cbTrial)
		assert.Contains(t, keyboardData(msg.ReplyMarkup), cbBuy)
	})

	t.Run("refuses banned accounts", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(&entitlementCommands.RegisterAccountResult{AccountID: uuid.New(), Banned: true})

		f.bot.HandleUpdate(context.Background(), commandUpdate("start", testUser()))

		msg := f.api.lastMessage(t)
		assert.Equal(t, textBanned, msg.Text)
		assert.Nil(t, msg.ReplyMarkup)
	})

	t.Run("retries an unreachable store before giving up", func(t *testing.T) {
		f := newBotFixture()
		f.accounts.On("Handle", mock.Anything, mock.Anything).
			Return(nil, database.Unavailable(errors.New("connection refused")))

		f.bot.HandleUpdate(context.Background(), commandUpdate("start", testUser()))

		msg := f.api.lastMessage(t)
		assert.Equal(t, textTryLater, msg.Text)
		f.accounts.AssertNumberOfCalls(t, "Handle", 2)
	})

	t.Run("does not retry domain failures", func(t *testing.T) {
		f := newBotFixture()
		f.accounts.On("Handle", mock.Anything, mock.Anything).
			Return(nil, errors.New("telegram id must be positive"))

		f.bot.HandleUpdate(context.Background(), commandUpdate("start", testUser()))

		assert.Equal(t, textTryLater, f.api.lastMessage(t).Text)
		f.accounts.AssertNumberOfCalls(t, "Handle", 1)
	})
}

func TestBot_StoreTimeoutBoundsAttempts(t *testing.T) {
	f := newBotFixture()
	f.bot.storeTimeout = 20 * time.Millisecond

	// A hung store call blocks until the attempt deadline frees it.
	calls := 0
	err := f.bot.withStoreRetry(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestBot_Help(t *testing.T) {
	f := newBotFixture()

	f.bot.HandleUpdate(context.Background(), commandUpdate("help", testUser()))

	msg := f.api.lastMessage(t)
	assert.Contains(t, msg.Text, "How Raylink works")
	f.accounts.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestBot_UnknownCommand(t *testing.T) {
	f := newBotFixture()

	f.bot.HandleUpdate(context.Background(), commandUpdate("frobnicate", testUser()))

	assert.Empty(t, f.api.sent)
}

func TestBot_Stats(t *testing.T) {
	t.Run("renders counters for an admin", func(t *testing.T) {
		f := newBotFixture()
		f.stats.On("Handle", mock.Anything, mock.Anything).Return(&entitlementQueries.SystemStatsDTO{
			Accounts:         12,
			ActiveWindows:    7,
			Payments:         31,
			TotalsByCurrency: map[string]int64{"USD": 15500},
		}, nil)

		admin := &tgbotapi.User{ID: adminTelegramID, UserName: "ops"}
		f.bot.HandleUpdate(context.Background(), commandUpdate("stats", admin))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "Accounts: <b>12</b>")
		assert.Contains(t, msg.Text, "Active windows: <b>7</b>")
		assert.Contains(t, msg.Text, "Revenue USD: <b>155.00</b>")
	})

	t.Run("ignores non-admins", func(t *testing.T) {
		f := newBotFixture()

		f.bot.HandleUpdate(context.Background(), commandUpdate("stats", testUser()))

		assert.Empty(t, f.api.sent)
		f.stats.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})
}

func TestBot_Status(t *testing.T) {
	now := time.Now()

	t.Run("shows active windows with config buttons", func(t *testing.T) {
		f := newBotFixture()
		account := testAccount()
		f.expectAccount(account)
		f.overview.On("Handle", mock.Anything, mock.MatchedBy(func(q entitlementQueries.GetAccountOverviewQuery) bool {
			return q.TelegramID == testTelegramID
		})).Return(&entitlementQueries.AccountOverviewDTO{
			AccountID:  account.AccountID,
			TelegramID: testTelegramID,
			Windows: []entitlementQueries.WindowDTO{
				{WindowID: uuid.New(), ServerID: "nl-1", Status: "active", ExpiresAt: now.Add(72 * time.Hour), Active: true},
				{WindowID: uuid.New(), ServerID: "de-1", Status: "expired", ExpiresAt: now.Add(-time.Hour), Active: false},
			},
		}, nil)
		f.devices.On("Handle", mock.Anything, mock.Anything).Return([]deviceQueries.DeviceDTO{
			{Fingerprint: "10.0.0.1", Fresh: true},
			{Fingerprint: "10.0.0.2", Fresh: true},
			{Fingerprint: "10.0.0.3", Fresh: false},
		}, nil)

		f.bot.HandleUpdate(context.Background(), commandUpdate("status", testUser()))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "Amsterdam")
		assert.NotContains(t, msg.Text, "Frankfurt", "expired windows are not listed")
		assert.Contains(t, msg.Text, "Devices online recently: <b>2</b>")
		data := keyboardData(msg.ReplyMarkup)
		assert.Contains(t, data, cbConfig+":nl-1")
		assert.NotContains(t, data, cbConfig+":de-1")
		assert.Contains(t, data, cbBuy)
	})

	t.Run("suggests plans when nothing is active", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.overview.On("Handle", mock.Anything, mock.Anything).Return(&entitlementQueries.AccountOverviewDTO{
			TelegramID: testTelegramID,
			Windows: []entitlementQueries.WindowDTO{
				{WindowID: uuid.New(), ServerID: "nl-1", Status: "expired", Active: false},
			},
		}, nil)

		f.bot.HandleUpdate(context.Background(), commandUpdate("status", testUser()))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "no active subscription")
		assert.Contains(t, keyboardData(msg.ReplyMarkup), cbTrial)
		f.devices.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("keeps the status usable when the device list fails", func(t *testing.T) {
		f := newBotFixture()
		f.expectAccount(testAccount())
		f.overview.On("Handle", mock.Anything, mock.Anything).Return(&entitlementQueries.AccountOverviewDTO{
			TelegramID: testTelegramID,
			Windows: []entitlementQueries.WindowDTO{
				{WindowID: uuid.New(), ServerID: "nl-1", Status: "active", ExpiresAt: now.Add(time.Hour), Active: true},
			},
		}, nil)
		f.devices.On("Handle", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

		f.bot.HandleUpdate(context.Background(), commandUpdate("status", testUser()))

		msg := f.api.lastMessage(t)
		assert.Contains(t, msg.Text, "Amsterdam")
		assert.False(t, strings.Contains(msg.Text, "Devices online recently"))
	})
}
