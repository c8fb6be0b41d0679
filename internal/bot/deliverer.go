package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/notifier"
	"github.com/navid-fn/pricio/internal/storage"
)

// Sender sends one Telegram message. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramDeliverer sends a drop event to every chat subscribed to the product
// whose rule the drop satisfies. Each chat is recorded in the delivery log, so
// a retried event only reaches the chats that missed it.
type TelegramDeliverer struct {
	subs    storage.SubscriptionRepository
	log     storage.NotifyRepository
	sender  Sender
	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

func NewTelegramDeliverer(subs storage.SubscriptionRepository, log storage.NotifyRepository, sender Sender, logger logrus.FieldLogger) *TelegramDeliverer {
	return &TelegramDeliverer{
		subs:    subs,
		log:     log,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		logger:  logger,
	}
}

// ChatConsumer names the delivery log entries of one chat.
func ChatConsumer(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, e models.PriceDropEvent) error {
	subs, err := d.subs.SubscriptionsForProduct(ctx, e.ProductID)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	text := notifier.RenderMessage(e)
	var errs []error
	for _, sub := range subs {
		if !sub.Wants(e) {
			continue
		}
		consumer := ChatConsumer(sub.ChatID)
		done, err := d.log.Delivered(ctx, consumer, e.ListingID, e.ObservationID)
		if err != nil {
			return fmt.Errorf("read delivery log: %w", err)
		}
		if done {
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(sub.ChatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		log := d.logger.WithFields(logrus.Fields{"chat": sub.ChatID, "listing": e.ListingID})
		if _, err := d.sender.Send(msg); err != nil {
			if !permanent(err) {
				errs = append(errs, fmt.Errorf("send to chat %d: %w", sub.ChatID, err))
				continue
			}
			// recorded as handled so retries of this event skip the chat
			log.Warnf("Skipping chat, Telegram refused the message: %v", err)
		} else {
			log.Debug("Drop sent")
		}
		if err := d.log.MarkDelivered(ctx, consumer, e.ListingID, e.ObservationID); err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
	}
	return errors.Join(errs...)
}

// permanent reports whether Telegram rejected a send for a reason a retry cannot
// fix, such as a blocked bot or a deleted chat. Rate limits are not permanent.
func permanent(err error) bool {
	code := 0
	var ptr *tgbotapi.Error
	var val tgbotapi.Error
	switch {
	case errors.As(err, &ptr):
		code = ptr.Code
	case errors.As(err, &val):
		code = val.Code
	}
	return code >= 400 && code < 500 && code != 429
}
