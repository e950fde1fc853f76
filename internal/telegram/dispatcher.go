package telegram

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// pollTimeout is the long-poll wait in seconds. Telegram holds the request
// open until an update arrives or the wait runs out.
const pollTimeout = 30

// Dispatcher owns the long-polling loop. It needs the concrete client for
// the update channel; the handlers behind it only see the BotAPI slice.
type Dispatcher struct {
	api    *tgbotapi.BotAPI
	bot    *Bot
	logger *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(api *tgbotapi.BotAPI, bot *Bot, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		api:    api,
		bot:    bot,
		logger: logger,
	}
}

// Run polls Telegram for updates until the context ends. Each update runs in
// its own goroutine so a slow payment or a stuck provider call never stalls
// the stream; the operations behind the handlers are idempotent, so
// per-update ordering is not load-bearing.
func (d *Dispatcher) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := d.api.GetUpdatesChan(u)

	d.logger.Info("telegram dispatcher started", "bot", d.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			d.api.StopReceivingUpdates()
			d.logger.Info("telegram dispatcher stopped")
			return
		case update, ok := <-updates:
			if !ok {
				d.logger.Info("telegram update stream closed")
				return
			}
			go d.bot.HandleUpdate(ctx, update)
		}
	}
}
