package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	paymentCommands "github.com/pavelzhukov/raylink/internal/payments/application/commands"
	paymentDomain "github.com/pavelzhukov/raylink/internal/payments/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/pkg/config"
)

// starsCurrency is the ISO-ish code Telegram uses for Stars invoices.
const starsCurrency = "XTR"

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.answerCallback(cb.ID, "")
	if cb.Message == nil {
		// Callbacks from inline-mode messages carry no chat to answer into.
		return
	}
	chatID := cb.Message.Chat.ID

	action, args := splitCallback(cb.Data)
	switch action {
	case cbBuy:
		b.sendServerChoice(chatID)
	case cbServer:
		if len(args) == 1 {
			b.sendPlanChoice(chatID, args[0])
		}
	case cbPlan:
		if len(args) == 2 {
			b.sendPaymentChoice(chatID, args[0], args[1])
		}
	case cbPay:
		if len(args) == 3 {
			b.startPayment(ctx, chatID, cb.From, args[0], args[1], args[2])
		}
	case cbTrial:
		b.handleTrial(ctx, chatID, cb.From)
	case cbStatus:
		b.sendStatus(ctx, chatID, cb.From)
	case cbHelp:
		b.reply(chatID, textHelp)
	case cbConfig:
		if len(args) == 1 {
			b.handleConfigRequest(ctx, chatID, cb.From, args[0])
		}
	default:
		b.logger.Warn("unknown callback action", "data", cb.Data)
	}
}

// sendServerChoice starts the buy flow. A single-server catalog skips
// straight to the plans.
func (b *Bot) sendServerChoice(chatID int64) {
	if len(b.catalog.Servers) == 1 {
		b.sendPlanChoice(chatID, b.catalog.Servers[0].ID)
		return
	}
	b.replyWithKeyboard(chatID, "🌍 Choose a location:", serverKeyboard(b.catalog.Servers))
}

func (b *Bot) sendPlanChoice(chatID int64, serverID string) {
	server, ok := b.catalog.ServerByID(serverID)
	if !ok {
		b.reply(chatID, textTryLater)
		return
	}
	text := fmt.Sprintf("📦 Plans for <b>%s</b>:", serverLabel(server))
	b.replyWithKeyboard(chatID, text, planKeyboard(serverID, b.catalog.Plans))
}

func (b *Bot) sendPaymentChoice(chatID int64, serverID, planID string) {
	plan, ok := b.catalog.PlanByID(planID)
	if !ok {
		b.reply(chatID, textTryLater)
		return
	}
	keyboard := b.payKeyboard(serverID, plan)
	if len(keyboard.InlineKeyboard) == 0 {
		b.reply(chatID, "⚠️ No payment methods are configured. Contact support.")
		return
	}
	text := fmt.Sprintf("💰 <b>%s</b> — %s\nHow would you like to pay?", plan.Title, priceLabel(plan.Price))
	b.replyWithKeyboard(chatID, text, keyboard)
}

// startPayment opens the chosen payment path. Stars go through Telegram's
// own invoice flow; the external gateways return a checkout URL and the
// invoice watcher credits the purchase once the provider reports it paid.
func (b *Bot) startPayment(ctx context.Context, chatID int64, from *tgbotapi.User, provider, serverID, planID string) {
	account := b.resolveAccount(ctx, chatID, from)
	if account == nil {
		return
	}
	plan, ok := b.catalog.PlanByID(planID)
	if !ok {
		b.reply(chatID, textTryLater)
		return
	}
	if _, ok := b.catalog.ServerByID(serverID); !ok {
		b.reply(chatID, textTryLater)
		return
	}

	if provider == entitlementCommands.ProviderStars {
		b.sendStarsInvoice(chatID, serverID, plan)
		return
	}

	var result *paymentCommands.CreateInvoiceResult
	err := b.withStoreRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.invoices.Handle(ctx, paymentCommands.CreateInvoiceCommand{
			AccountID: account.AccountID,
			ServerID:  serverID,
			PlanID:    planID,
			Provider:  provider,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, paymentDomain.ErrProviderUnavailable) {
			b.reply(chatID, "⚠️ That payment method is not available right now.")
			return
		}
		b.logger.Error("failed to open invoice",
			"account_id", account.AccountID,
			"provider", provider,
			"plan_id", planID,
			"error", err,
		)
		b.reply(chatID, textTryLater)
		return
	}

	text := fmt.Sprintf(
		"🧾 Invoice for <b>%s</b> — %s\n\nPay via the button below. Access is granted automatically once the payment confirms; the invoice stays valid until %s.",
		plan.Title,
		priceLabel(plan.Price),
		result.ExpiresAt.UTC().Format(statusTimeFormat),
	)
	b.replyWithKeyboard(chatID, text, payURLKeyboard(result.PayURL))
}

// sendStarsInvoice asks Telegram to collect Stars. The payload carries the
// server and plan so the confirmation is self-contained even across a
// restart.
func (b *Bot) sendStarsInvoice(chatID int64, serverID string, plan config.Plan) {
	invoice := tgbotapi.InvoiceConfig{
		BaseChat:    tgbotapi.BaseChat{ChatID: chatID},
		Title:       "Raylink — " + plan.Title,
		Description: fmt.Sprintf("VPN access, %d days", plan.Days),
		Payload:     serverID + ":" + plan.ID,
		Currency:    starsCurrency,
		Prices:      []tgbotapi.LabeledPrice{{Label: plan.Title, Amount: plan.Stars}},
	}
	b.send(invoice)
}

// handlePreCheckout approves or rejects a Stars payment right before the
// user's balance is charged. Telegram expects an answer within ten seconds,
// so the ban check is best-effort: a storage blip approves rather than
// blocks the sale.
func (b *Bot) handlePreCheckout(ctx context.Context, query *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: query.ID, OK: true}

	serverID, planID, ok := parseStarsPayload(query.InvoicePayload)
	if ok {
		_, ok = b.catalog.PlanByID(planID)
	}
	if ok {
		_, ok = b.catalog.ServerByID(serverID)
	}
	if !ok {
		answer.OK = false
		answer.ErrorMessage = "This offer is no longer available."
	} else {
		account, err := b.accounts.Handle(ctx, entitlementCommands.RegisterAccountCommand{
			TelegramID: sharedDomain.NewTelegramID(query.From.ID),
			Username:   query.From.UserName,
		})
		switch {
		case err != nil:
			b.logger.Error("pre-checkout account lookup failed", "telegram_id", query.From.ID, "error", err)
		case account.Banned:
			answer.OK = false
			answer.ErrorMessage = "This account is blocked."
		}
	}

	if _, err := b.api.Request(answer); err != nil {
		b.logger.Error("failed to answer pre-checkout query", "error", err)
	}
}

// handleSuccessfulPayment credits a completed Stars payment. The charge id
// is the payment reference, so a redelivered update credits nothing twice.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	payment := msg.SuccessfulPayment
	chatID := msg.Chat.ID

	serverID, planID, ok := parseStarsPayload(payment.InvoicePayload)
	if !ok {
		b.logger.Error("successful payment carries an unreadable payload",
			"payload", payment.InvoicePayload,
			"charge_id", payment.TelegramPaymentChargeID,
		)
		b.reply(chatID, "⚠️ We received your payment but could not match it to a plan. Contact support.")
		return
	}

	account := b.resolveAccount(ctx, chatID, msg.From)
	if account == nil {
		return
	}

	var result *entitlementCommands.ConfirmPurchaseResult
	err := b.withStoreRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.purchases.Handle(ctx, entitlementCommands.ConfirmPurchaseCommand{
			AccountID:   account.AccountID,
			ServerID:    serverID,
			PlanID:      planID,
			PaymentRef:  payment.TelegramPaymentChargeID,
			Provider:    entitlementCommands.ProviderStars,
			AmountMinor: int64(payment.TotalAmount),
			Currency:    payment.Currency,
		})
		return err
	})
	if err != nil {
		b.logger.Error("failed to credit stars payment",
			"account_id", account.AccountID,
			"charge_id", payment.TelegramPaymentChargeID,
			"error", err,
		)
		b.reply(chatID, "⚠️ Your payment arrived but crediting it failed. Support has the charge id "+payment.TelegramPaymentChargeID+".")
		return
	}

	b.logger.Info("stars payment credited",
		"account_id", account.AccountID,
		"window_id", result.WindowID,
		"charge_id", payment.TelegramPaymentChargeID,
		"already_processed", result.AlreadyProcessed,
	)

	b.reply(chatID, fmt.Sprintf("✅ Payment received! Your access runs until <b>%s</b>.",
		result.ExpiresAt.UTC().Format(statusTimeFormat)))
	if server, ok := b.catalog.ServerByID(serverID); ok {
		b.sendConnectionConfig(chatID, account.AccountID, server)
	}
}

func parseStarsPayload(payload string) (serverID, planID string, ok bool) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
