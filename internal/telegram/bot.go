// Package telegram is the bot transport. It routes Telegram updates to the
// application layer and renders results as chat messages; no business rules
// live here. Telegram Stars payments settle in-band through the update
// stream, so their pre-checkout and confirmation hooks are part of this
// package rather than the payment providers.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"

	deviceQueries "github.com/pavelzhukov/raylink/internal/devices/application/queries"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	paymentCommands "github.com/pavelzhukov/raylink/internal/payments/application/commands"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	"github.com/pavelzhukov/raylink/pkg/config"
	"github.com/pavelzhukov/raylink/pkg/observability"
)

// BotAPI is the slice of the Telegram client the handlers need. The concrete
// *tgbotapi.BotAPI satisfies it.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Application ports the bot drives. Each is satisfied by the corresponding
// command or query handler.
type (
	// AccountRegistrar records a user on first contact and resolves their
	// account on every later one.
	AccountRegistrar interface {
		Handle(ctx context.Context, cmd entitlementCommands.RegisterAccountCommand) (*entitlementCommands.RegisterAccountResult, error)
	}

	// TrialActivator grants the one free window.
	TrialActivator interface {
		Handle(ctx context.Context, cmd entitlementCommands.ActivateTrialCommand) (*entitlementCommands.ActivateTrialResult, error)
	}

	// PurchaseConfirmer credits a verified payment.
	PurchaseConfirmer interface {
		Handle(ctx context.Context, cmd entitlementCommands.ConfirmPurchaseCommand) (*entitlementCommands.ConfirmPurchaseResult, error)
	}

	// InvoiceOpener opens an external payment invoice.
	InvoiceOpener interface {
		Handle(ctx context.Context, cmd paymentCommands.CreateInvoiceCommand) (*paymentCommands.CreateInvoiceResult, error)
	}

	// OverviewReader fetches an account with its subscription windows.
	OverviewReader interface {
		Handle(ctx context.Context, query entitlementQueries.GetAccountOverviewQuery) (*entitlementQueries.AccountOverviewDTO, error)
	}

	// DeviceReader lists an account's device bindings.
	DeviceReader interface {
		Handle(ctx context.Context, query deviceQueries.ListDevicesQuery) ([]deviceQueries.DeviceDTO, error)
	}

	// StatsReader fetches the operator counters behind /stats.
	StatsReader interface {
		Handle(ctx context.Context, query entitlementQueries.SystemStatsQuery) (*entitlementQueries.SystemStatsDTO, error)
	}
)

// Bot handles Telegram updates.
type Bot struct {
	api       BotAPI
	accounts  AccountRegistrar
	trials    TrialActivator
	purchases PurchaseConfirmer
	invoices  InvoiceOpener
	overview  OverviewReader
	devices   DeviceReader
	stats     StatsReader
	catalog   *config.Catalog
	logger    *slog.Logger

	// providers lists the configured external payment gateways by name.
	providers     []string
	adminIDs      []int64
	trialEnabled  bool
	trialDays     int
	retryAttempts uint64
	retryBase     time.Duration
	storeTimeout  time.Duration
}

// BotConfig holds dependencies for the bot.
type BotConfig struct {
	API       BotAPI
	Accounts  AccountRegistrar
	Trials    TrialActivator
	Purchases PurchaseConfirmer
	Invoices  InvoiceOpener
	Overview  OverviewReader
	Devices   DeviceReader
	Stats     StatsReader
	Catalog   *config.Catalog
	Logger    *slog.Logger

	Providers     []string
	AdminIDs      []int64
	TrialEnabled  bool
	TrialDays     int
	RetryAttempts int
	RetryBase     time.Duration
	StoreTimeout  time.Duration
}

// NewBot creates a new Bot.
func NewBot(cfg BotConfig) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Bot{
		api:           cfg.API,
		accounts:      cfg.Accounts,
		trials:        cfg.Trials,
		purchases:     cfg.Purchases,
		invoices:      cfg.Invoices,
		overview:      cfg.Overview,
		devices:       cfg.Devices,
		stats:         cfg.Stats,
		catalog:       cfg.Catalog,
		logger:        cfg.Logger,
		providers:     cfg.Providers,
		adminIDs:      cfg.AdminIDs,
		trialEnabled:  cfg.TrialEnabled,
		trialDays:     cfg.TrialDays,
		retryAttempts: uint64(retryAttempts),
		retryBase:     retryBase,
		storeTimeout:  storeTimeout,
	}
}

// HandleUpdate routes one Telegram update. Stars payments come in as special
// update shapes and take precedence over plain messages.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Every log line written while handling this update carries the same IDs.
	ctx = observability.WithCorrelationID(ctx, "")
	ctx = observability.WithRequestID(ctx, "")

	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		b.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) isAdmin(telegramID int64) bool {
	for _, id := range b.adminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// resolveAccount registers or refreshes the sender's account. It owns the two
// refusals every flow shares: storage trouble and the ban flag. A nil result
// means the caller should stop; the user has already been answered.
func (b *Bot) resolveAccount(ctx context.Context, chatID int64, from *tgbotapi.User) *entitlementCommands.RegisterAccountResult {
	var result *entitlementCommands.RegisterAccountResult
	err := b.withStoreRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.accounts.Handle(ctx, entitlementCommands.RegisterAccountCommand{
			TelegramID: sharedDomain.NewTelegramID(from.ID),
			Username:   from.UserName,
		})
		return err
	})
	if err != nil {
		b.logger.Error("failed to resolve account", "telegram_id", from.ID, "error", err)
		b.reply(chatID, textTryLater)
		return nil
	}
	if result.Banned {
		b.reply(chatID, textBanned)
		return nil
	}
	return result
}

// withStoreRetry bounds every attempt with the store timeout and retries
// while the store reports itself unreachable or the attempt deadline fires.
// Domain failures pass through on the first attempt. A hung store never
// reads as "no entitlement"; it surfaces here as a generic failure once the
// retries are spent.
func (b *Bot) withStoreRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := retry.WithMaxRetries(b.retryAttempts, retry.NewFibonacci(b.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, b.storeTimeout)
		defer cancel()
		if err := op(attemptCtx); err != nil {
			if database.IsUnavailable(err) || errors.Is(err, context.DeadlineExceeded) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = keyboard
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("failed to send telegram message", "error", err)
	}
}

// answerCallback acknowledges a callback query so the client stops showing
// the spinner.
func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Error("failed to answer callback query", "error", err)
	}
}
