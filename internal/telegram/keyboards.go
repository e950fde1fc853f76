package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	"github.com/pavelzhukov/raylink/pkg/config"
)

// Callback actions. Multi-part data is colon-separated, e.g.
// "pay:cryptopay:nl-1:month-1"; Telegram caps the whole string at 64 bytes,
// which bounds catalog identifier length.
const (
	cbBuy    = "buy"
	cbTrial  = "trial"
	cbStatus = "status"
	cbHelp   = "help"
	cbServer = "srv"
	cbPlan   = "plan"
	cbPay    = "pay"
	cbConfig = "cfg"
)

// splitCallback separates the action from its arguments.
func splitCallback(data string) (string, []string) {
	parts := strings.Split(data, ":")
	return parts[0], parts[1:]
}

// mainMenuKeyboard is the entry keyboard sent with /start. The trial button
// only shows while the account can still claim one.
func (b *Bot) mainMenuKeyboard(trialAvailable bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚀 Buy access", cbBuy),
		),
	}
	if trialAvailable {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🎁 Free trial (%d days)", b.trialDays), cbTrial),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📊 My subscription", cbStatus),
		tgbotapi.NewInlineKeyboardButtonData("❓ Help", cbHelp),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// serverKeyboard lists the catalog servers, one per row.
func serverKeyboard(servers []config.Server) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(servers))
	for _, s := range servers {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(serverLabel(s), cbServer+":"+s.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// planKeyboard lists the plans for a chosen server.
func planKeyboard(serverID string, plans []config.Plan) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		label := fmt.Sprintf("%s — %s", p.Title, priceLabel(p.Price))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbPlan+":"+serverID+":"+p.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// payKeyboard lists the payment methods available for a plan. Stars settle
// in-band and need a star price on the plan; the external gateways appear
// only when the deployment has their credentials.
func (b *Bot) payKeyboard(serverID string, plan config.Plan) tgbotapi.InlineKeyboardMarkup {
	suffix := ":" + serverID + ":" + plan.ID
	var rows [][]tgbotapi.InlineKeyboardButton
	if plan.Stars > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("⭐ Telegram Stars (%d)", plan.Stars),
				cbPay+":"+entitlementCommands.ProviderStars+suffix),
		))
	}
	for _, provider := range b.providers {
		switch provider {
		case entitlementCommands.ProviderCryptoPay:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("💠 Crypto (USDT)", cbPay+":"+provider+suffix),
			))
		case entitlementCommands.ProviderYooKassa:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("💳 Bank card", cbPay+":"+provider+suffix),
			))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// payURLKeyboard is the single checkout button under an opened invoice.
func payURLKeyboard(payURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💳 Open checkout", payURL),
		),
	)
}

// renewKeyboard is attached to expiry notices.
func renewKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚀 Renew access", cbBuy),
		),
	)
}

func serverLabel(s config.Server) string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// priceLabel renders a minor-unit amount, e.g. 500 USD -> "5.00 USD".
func priceLabel(p config.Price) string {
	return fmt.Sprintf("%d.%02d %s", p.Amount/100, p.Amount%100, p.Currency)
}
