package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/provisioning"
	"github.com/pavelzhukov/raylink/internal/provisioning/vless"
	"github.com/pavelzhukov/raylink/pkg/config"
)

const qrSize = 256

// handleTrial claims the free trial on the catalog's default server.
func (b *Bot) handleTrial(ctx context.Context, chatID int64, from *tgbotapi.User) {
	account := b.resolveAccount(ctx, chatID, from)
	if account == nil {
		return
	}

	serverID := b.catalog.DefaultServer

	var result *entitlementCommands.ActivateTrialResult
	err := b.withStoreRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.trials.Handle(ctx, entitlementCommands.ActivateTrialCommand{
			AccountID: account.AccountID,
			ServerID:  serverID,
		})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, entitlementDomain.ErrTrialAlreadyUsed):
			b.replyWithKeyboard(chatID, "You have already used your free trial. Pick a plan to keep going.", b.mainMenuKeyboard(false))
		case errors.Is(err, entitlementDomain.ErrTrialDisabled):
			b.reply(chatID, "The free trial is not available right now.")
		case errors.Is(err, entitlementDomain.ErrActiveWindowExists):
			b.reply(chatID, "You already have active access on this server. Check /status for your config.")
		default:
			b.logger.Error("failed to activate trial", "account_id", account.AccountID, "error", err)
			b.reply(chatID, textTryLater)
		}
		return
	}

	b.logger.Info("trial activated via bot",
		"account_id", account.AccountID,
		"window_id", result.WindowID,
		"server_id", result.ServerID,
	)

	b.reply(chatID, fmt.Sprintf("🎁 Trial activated! You are connected until <b>%s</b>.",
		result.ExpiresAt.UTC().Format(statusTimeFormat)))
	if server, ok := b.catalog.ServerByID(result.ServerID); ok {
		b.sendConnectionConfig(chatID, account.AccountID, server)
	}
}

// handleConfigRequest re-issues the connection config for a server the
// account holds an active window on. The overview decides entitlement with
// lazy expiry, so a lapsed window that the sweep has not reached yet still
// refuses here.
func (b *Bot) handleConfigRequest(ctx context.Context, chatID int64, from *tgbotapi.User, serverID string) {
	account := b.resolveAccount(ctx, chatID, from)
	if account == nil {
		return
	}

	overview, err := b.overview.Handle(ctx, entitlementQueries.GetAccountOverviewQuery{TelegramID: from.ID})
	if err != nil {
		b.logger.Error("failed to load overview for config request", "telegram_id", from.ID, "error", err)
		b.reply(chatID, textTryLater)
		return
	}

	entitled := false
	for _, w := range overview.Windows {
		if w.ServerID == serverID && w.Active {
			entitled = true
			break
		}
	}
	if !entitled {
		b.replyWithKeyboard(chatID, "You have no active access on that server.", renewKeyboard())
		return
	}

	server, ok := b.catalog.ServerByID(serverID)
	if !ok {
		b.reply(chatID, textTryLater)
		return
	}
	b.sendConnectionConfig(chatID, account.AccountID, server)
}

// sendConnectionConfig delivers the client credentials: a QR code of the
// Reality link plus the raw links for copy-paste. The client id is derived,
// never stored, so reissuing is always safe.
func (b *Bot) sendConnectionConfig(chatID int64, accountID uuid.UUID, server config.Server) {
	clientID := provisioning.DeriveClientID(accountID, server.ID)
	label := "Raylink " + serverLabel(server)

	reality := vless.RealityLink(clientID, server, label)

	png, err := qrcode.Encode(reality, qrcode.Medium, qrSize)
	if err != nil {
		b.logger.Error("failed to render config QR code", "server_id", server.ID, "error", err)
	} else {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "raylink.png", Bytes: png})
		photo.Caption = "🔑 Scan this QR code with your VPN client, or copy the link below."
		b.send(photo)
	}

	text := fmt.Sprintf("<code>%s</code>", reality)
	if ws := vless.WebSocketLink(clientID, server, label+" ws"); ws != "" {
		text += fmt.Sprintf("\n\nFallback for networks that block direct connections:\n<code>%s</code>", ws)
	}
	b.reply(chatID, text)
}
