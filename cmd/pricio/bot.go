package main

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	cli "github.com/jawher/mow.cli"
	"golang.org/x/sync/errgroup"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/bot"
	"github.com/navid-fn/pricio/internal/crawler"
)

func cmdBot(cmd *cli.Cmd) {
	cmd.Action = func() {
		e := loadEnv()
		if e.cfg.Telegram.Token == "" {
			e.fail("TELEGRAM_BOT_TOKEN is not set")
		}

		stores := []string{"5ka", "magnit"}
		if catalog, err := configs.LoadStores(e.cfg.StoresFile); err == nil {
			stores = catalog.IDs()
		}

		err := crawler.RunWithGracefulShutdown(e.logger, func(ctx context.Context) error {
			api, err := tgbotapi.NewBotAPI(e.cfg.Telegram.Token)
			if err != nil {
				return fmt.Errorf("telegram: %w", err)
			}
			e.logger.Infof("Authorized as @%s", api.Self.UserName)

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return bot.New(api, bot.NewHandler(store, stores), e.logger).Serve(ctx)
			})

			if e.cfg.Kafka.Broker == "" {
				e.logger.Warn("KAFKA_BROKER is not set, drop events will not be consumed")
			} else {
				reader, err := bot.NewKafkaConsumer(e.cfg.Kafka.Broker, e.cfg.Kafka.Topic, e.cfg.Kafka.GroupID)
				if err != nil {
					return err
				}
				defer reader.Close()

				deliverer := bot.NewTelegramDeliverer(store, store, api, e.logger)
				g.Go(func() error {
					return bot.NewConsumer(reader, deliverer, bot.ConsumerConfig{}, e.logger).Start(ctx)
				})
			}

			return g.Wait()
		})
		if err != nil {
			e.fail("Telegram bot stopped: %v", err)
		}
	}
}
