package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cli "github.com/jawher/mow.cli"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/api"
	"github.com/navid-fn/pricio/internal/crawler"
)

func cmdAPI(cmd *cli.Cmd) {
	cmd.Spec = "[--port]"
	port := cmd.StringOpt("port", "", "Listen port (default API_PORT)")

	cmd.Action = func() {
		e := loadEnv()
		if *port == "" {
			*port = e.cfg.API.Port
		}

		stores := []string{"5ka", "magnit"}
		if catalog, err := configs.LoadStores(e.cfg.StoresFile); err == nil {
			stores = catalog.IDs()
		}

		err := crawler.RunWithGracefulShutdown(e.logger, func(ctx context.Context) error {
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			router := api.NewRouter(&api.Config{
				PriceHandler: api.NewPriceHandler(api.NewPriceService(store, stores)),
			})
			srv := &http.Server{Addr: fmt.Sprintf(":%s", *port), Handler: router}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			e.logger.Infof("API listening on %s", srv.Addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if err != nil {
			e.fail("API server failed: %v", err)
		}
	}
}
