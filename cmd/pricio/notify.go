package main

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	cli "github.com/jawher/mow.cli"

	"github.com/navid-fn/pricio/internal/bot"
	"github.com/navid-fn/pricio/internal/crawler"
	"github.com/navid-fn/pricio/internal/ledger"
	"github.com/navid-fn/pricio/internal/notifier"
	"github.com/navid-fn/pricio/internal/storage"
)

func cmdNotify(cmd *cli.Cmd) {
	cmd.Spec = "[--daemon] [--interval]"
	var (
		daemon   = cmd.BoolOpt("daemon", false, "Keep checking until interrupted")
		interval = cmd.IntOpt("interval", 0, "Seconds between checks in daemon mode (default NOTIFY_INTERVAL_SECONDS)")
	)

	cmd.Action = func() {
		e := loadEnv()
		every := e.cfg.Notify.Interval
		if *interval > 0 {
			every = time.Duration(*interval) * time.Second
		}

		err := crawler.RunWithGracefulShutdown(e.logger, func(ctx context.Context) error {
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			deliverer, consumer, closeFn, err := e.dropDeliverer(store)
			if err != nil {
				return err
			}
			defer closeFn()

			trigger := notifier.NewTrigger(ledger.New(store), store, deliverer, notifier.Config{
				Consumer: consumer,
				Overlap:  e.cfg.Notify.Overlap,
				Lookback: e.cfg.Notify.Lookback,
			}, e.logger)

			if *daemon {
				e.logger.Infof("Checking price drops every %s", every)
				return trigger.RunEvery(ctx, every)
			}
			delivered, err := trigger.CheckDrops(ctx)
			fmt.Printf("Delivered %d price drops\n", len(delivered))
			return err
		})
		if err != nil {
			e.fail("Price drop notification failed: %v", err)
		}
	}
}

// dropDeliverer publishes to Kafka when a broker is configured and sends to
// Telegram directly otherwise.
func (e *env) dropDeliverer(store storage.Store) (notifier.Deliverer, string, func(), error) {
	if e.cfg.Kafka.Broker != "" {
		producer, err := notifier.NewKafkaProducer(e.cfg.Kafka.Broker)
		if err != nil {
			return nil, "", nil, err
		}
		pub := notifier.NewKafkaPublisher(producer, e.cfg.Kafka.Topic, e.logger)
		return pub, "kafka:" + e.cfg.Kafka.Topic, pub.Close, nil
	}

	if e.cfg.Telegram.Token != "" {
		api, err := tgbotapi.NewBotAPI(e.cfg.Telegram.Token)
		if err != nil {
			return nil, "", nil, fmt.Errorf("telegram: %w", err)
		}
		return bot.NewTelegramDeliverer(store, store, api, e.logger), "telegram", func() {}, nil
	}

	return nil, "", nil, fmt.Errorf("no delivery configured: set KAFKA_BROKER or TELEGRAM_BOT_TOKEN")
}
