package main

import (
	"context"

	cli "github.com/jawher/mow.cli"

	"github.com/navid-fn/pricio/internal/storage"
)

func cmdMigrate(cmd *cli.Cmd) {
	cmd.Action = func() {
		e := loadEnv()
		store, err := e.openStore(context.Background())
		if err != nil {
			e.fail("Failed to connect to database: %v", err)
		}
		defer store.Close()

		e.logger.Info("Running database migrations...")
		if err := storage.Migrate(store.DB()); err != nil {
			e.fail("Migration failed: %v", err)
		}
		e.logger.Info("Migrations completed successfully")
	}
}
