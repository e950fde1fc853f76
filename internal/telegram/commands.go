package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	deviceQueries "github.com/pavelzhukov/raylink/internal/devices/application/queries"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
)

const (
	textWelcome = `<b>Welcome to Raylink</b> 🛰

Fast VLESS/Reality VPN, sold right here in the chat.

• Buy access and get your connection config in seconds
• Pay with Telegram Stars, crypto or a bank card
• One subscription, several devices

Pick an option below to get going.`

	textHelp = `<b>How Raylink works</b>

/start — main menu
/status — your subscription and devices
/help — this message

Buy a plan, receive a <code>vless://</code> link plus a QR code, and import
it into your client (v2rayNG, Streisand, Hiddify and friends all work).
Payments are credited automatically; if anything looks stuck, just run
/status.`

	textBanned   = "⛔ This account is blocked. Contact support if you believe this is a mistake."
	textTryLater = "⚠️ Something went wrong on our side. Please try again in a minute."
)

const statusTimeFormat = "2 Jan 2006 15:04 MST"

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.reply(msg.Chat.ID, textHelp)
	case "status":
		b.sendStatus(ctx, msg.Chat.ID, msg.From)
	case "stats":
		b.handleStats(ctx, msg)
	default:
		// Unknown commands are ignored rather than answered; group chats
		// see every slash command addressed at any bot.
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	account := b.resolveAccount(ctx, msg.Chat.ID, msg.From)
	if account == nil {
		return
	}

	trialAvailable := b.trialEnabled && !account.TrialUsed
	b.replyWithKeyboard(msg.Chat.ID, textWelcome, b.mainMenuKeyboard(trialAvailable))
}

// handleStats answers the operator counters. Unknown users get silence, not
// a refusal; the command should not advertise itself.
func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(msg.From.ID) {
		return
	}

	stats, err := b.stats.Handle(ctx, entitlementQueries.SystemStatsQuery{})
	if err != nil {
		b.logger.Error("failed to load system stats", "error", err)
		b.reply(msg.Chat.ID, textTryLater)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Raylink stats</b>\n\n")
	fmt.Fprintf(&sb, "Accounts: <b>%d</b>\n", stats.Accounts)
	fmt.Fprintf(&sb, "Active windows: <b>%d</b>\n", stats.ActiveWindows)
	fmt.Fprintf(&sb, "Payments: <b>%d</b>\n", stats.Payments)
	for currency, total := range stats.TotalsByCurrency {
		fmt.Fprintf(&sb, "Revenue %s: <b>%d.%02d</b>\n", currency, total/100, total%100)
	}
	b.reply(msg.Chat.ID, sb.String())
}

// sendStatus renders the account overview: windows, their expiry, and how
// many devices were seen recently. Config buttons appear per active window.
func (b *Bot) sendStatus(ctx context.Context, chatID int64, from *tgbotapi.User) {
	account := b.resolveAccount(ctx, chatID, from)
	if account == nil {
		return
	}

	var overview *entitlementQueries.AccountOverviewDTO
	err := b.withStoreRetry(ctx, func(ctx context.Context) error {
		var err error
		overview, err = b.overview.Handle(ctx, entitlementQueries.GetAccountOverviewQuery{TelegramID: from.ID})
		return err
	})
	if err != nil {
		if errors.Is(err, entitlementQueries.ErrAccountNotFound) {
			// resolveAccount upserted the row a moment ago; a miss here just
			// means no windows yet.
			b.replyWithKeyboard(chatID, b.noSubscriptionText(account.TrialUsed), b.mainMenuKeyboard(b.trialEnabled && !account.TrialUsed))
			return
		}
		b.logger.Error("failed to load account overview", "telegram_id", from.ID, "error", err)
		b.reply(chatID, textTryLater)
		return
	}

	var active []entitlementQueries.WindowDTO
	for _, w := range overview.Windows {
		if w.Active {
			active = append(active, w)
		}
	}

	if len(active) == 0 {
		b.replyWithKeyboard(chatID, b.noSubscriptionText(overview.TrialUsed), b.mainMenuKeyboard(b.trialEnabled && !overview.TrialUsed))
		return
	}

	var sb strings.Builder
	sb.WriteString("<b>Your subscription</b>\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, w := range active {
		label := w.ServerID
		if server, ok := b.catalog.ServerByID(w.ServerID); ok {
			label = serverLabel(server)
		}
		fmt.Fprintf(&sb, "\n🟢 <b>%s</b>\nActive until %s\n", label, w.ExpiresAt.UTC().Format(statusTimeFormat))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔑 Config for "+label, cbConfig+":"+w.ServerID),
		))
	}

	if b.devices != nil {
		devices, err := b.devices.Handle(ctx, deviceQueries.ListDevicesQuery{AccountID: account.AccountID})
		if err != nil {
			b.logger.Error("failed to list devices", "account_id", account.AccountID, "error", err)
		} else {
			fresh := 0
			for _, d := range devices {
				if d.Fresh {
					fresh++
				}
			}
			fmt.Fprintf(&sb, "\n📱 Devices online recently: <b>%d</b>\n", fresh)
		}
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🚀 Extend / buy more", cbBuy),
	))
	b.replyWithKeyboard(chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) noSubscriptionText(trialUsed bool) string {
	if b.trialEnabled && !trialUsed {
		return "You have no active subscription yet. Grab the free trial or pick a plan below."
	}
	return "You have no active subscription. Pick a plan below to get connected."
}
