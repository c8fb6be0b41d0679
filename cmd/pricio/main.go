package main

import (
	"context"
	"os"

	cli "github.com/jawher/mow.cli"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/crawler"
	"github.com/navid-fn/pricio/internal/storage"

	// store adapters register themselves
	_ "github.com/navid-fn/pricio/internal/drivers/magnit"
	_ "github.com/navid-fn/pricio/internal/drivers/pyaterochka"
)

func main() {
	app := cli.App("pricio", "Grocery price scraper, price ledger and drop notifications")

	app.Command("scrape", "Scrape one store into the price ledger", cmdScrape)
	app.Command("notify_price_drops", "Deliver new price drops once, or continuously with --daemon", cmdNotify)
	app.Command("telegram_bot", "Run the Telegram bot and the drop event consumer", cmdBot)
	app.Command("migrate", "Apply database migrations", cmdMigrate)
	app.Command("api", "Serve the read-only ops API", cmdAPI)

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// env is what every command starts from.
type env struct {
	cfg    *configs.AppConfig
	logger *logrus.Logger
}

func loadEnv() *env {
	cfg := configs.AppLoad()
	return &env{cfg: cfg, logger: crawler.NewLogger(cfg.LogLevel)}
}

func (e *env) openStore(ctx context.Context) (*storage.GormStore, error) {
	return storage.Open(ctx, e.cfg.DatabaseURL, e.logger)
}

// fail logs a startup error and exits non-zero.
func (e *env) fail(format string, args ...any) {
	e.logger.Errorf(format, args...)
	cli.Exit(1)
}
