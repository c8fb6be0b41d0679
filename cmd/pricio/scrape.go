package main

import (
	"context"
	"fmt"
	"strings"

	cli "github.com/jawher/mow.cli"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/archive"
	"github.com/navid-fn/pricio/internal/crawler"
	"github.com/navid-fn/pricio/internal/drivers/magnit"
	"github.com/navid-fn/pricio/internal/faulttolerance"
	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/orchestrator"
	"github.com/navid-fn/pricio/internal/scraper"
)

func cmdScrape(cmd *cli.Cmd) {
	cmd.Spec = "--store [--demo]"
	var (
		storeID = cmd.StringOpt("store", "", "Store to scrape: "+strings.Join(scraper.Registered(), ", "))
		demo    = cmd.BoolOpt("demo", false, "Scrape only the first category")
	)

	cmd.Action = func() {
		e := loadEnv()
		stores, err := configs.LoadStores(e.cfg.StoresFile)
		if err != nil {
			e.fail("Failed to load store catalog: %v", err)
		}
		storeCfg, err := stores.Get(*storeID)
		if err != nil {
			e.fail("%v", err)
		}
		adapter, err := scraper.New(storeCfg)
		if err != nil {
			e.fail("%v", err)
		}

		mode := models.ModeFull
		if *demo {
			mode = models.ModeDemo
		}

		var run *models.ScrapeRun
		err = crawler.RunWithGracefulShutdown(e.logger, func(ctx context.Context) error {
			r, err := e.scrape(ctx, adapter, storeCfg.BaseURL, mode)
			run = r
			return err
		})
		if run != nil {
			fmt.Println(run.Summary())
		}
		if err != nil {
			e.logger.Errorf("Scrape failed: %v", err)
		}
		if run == nil || run.Status != models.RunCompleted {
			cli.Exit(1)
		}
	}
}

func (e *env) scrape(ctx context.Context, adapter scraper.Adapter, baseURL string, mode models.RunMode) (*models.ScrapeRun, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var source crawler.PageSource = crawler.NewHTTPSource(e.cfg.Fetch.Timeout, e.cfg.Fetch.UserAgent).
		WithHeader("Referer", baseURL+"/")
	if e.cfg.Fetch.Render && adapter.Name() == magnit.StoreID {
		browser := crawler.NewBrowserSource(e.cfg.Fetch.UserAgent)
		defer browser.Close()
		source = browser
	}
	pages := crawler.NewFetcher(adapter.Name(), e.cfg.Fetch, source, e.logger)

	o := orchestrator.New(store, adapter, pages, orchestrator.Config{
		Mode:    mode,
		Workers: e.cfg.Scrape.Workers,
	}, e.logger)

	if e.cfg.ClickHouseDSN != "" {
		ch, err := archive.Open(ctx, e.cfg.ClickHouseDSN)
		if err != nil {
			// the archive is optional
			e.logger.Warnf("ClickHouse archive disabled: %v", err)
		} else {
			defer ch.Close()
			o.WithArchive(ch)
		}
	}

	e.logger.Infof("Starting %s scrape of %s", mode, adapter.Name())
	run, err := o.Run(ctx)

	if stats := pages.BreakerStats(); stats.Failures > 0 || stats.State != faulttolerance.StateClosed {
		e.logger.Warnf("Fetch breaker %s ended %s with %d consecutive failures", stats.Name, stats.State, stats.Failures)
	}
	return run, err
}
