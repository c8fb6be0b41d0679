package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// API is the part of *tgbotapi.BotAPI the update loop uses.
type API interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot long-polls Telegram and answers commands.
type Bot struct {
	api     API
	handler *Handler
	logger  logrus.FieldLogger
}

func New(api API, handler *Handler, logger logrus.FieldLogger) *Bot {
	return &Bot{api: api, handler: handler, logger: logger}
}

// Serve answers commands until ctx is cancelled.
func (b *Bot) Serve(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot is polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handle(ctx, update)
		}
	}
}

func (b *Bot) handle(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}

	text := b.handler.Reply(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(reply); err != nil {
		b.logger.WithField("chat", msg.Chat.ID).Warnf("Reply failed: %v", err)
	}
}
