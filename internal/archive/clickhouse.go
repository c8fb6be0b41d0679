// Package archive copies committed price observations to ClickHouse for analytics.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/navid-fn/pricio/internal/models"
)

// ReplacingMergeTree keyed by observation makes a re-sent batch harmless.
const createTable = `
	CREATE TABLE IF NOT EXISTS price_observations (
		observation_id Int64,
		run_id         UUID,
		store          LowCardinality(String),
		sku            String,
		product_id     UUID,
		listing_id     UUID,
		category       LowCardinality(String),
		price          Decimal(12, 2),
		currency       LowCardinality(String),
		discount       Bool,
		observed_at    DateTime64(3, 'UTC'),
		inserted_at    DateTime64(3, 'UTC')
	)
	ENGINE = ReplacingMergeTree(inserted_at)
	ORDER BY (store, listing_id, observation_id)
`

const insertRows = `
	INSERT INTO price_observations (
		observation_id, run_id, store, sku,
		product_id, listing_id, category,
		price, currency, discount,
		observed_at, inserted_at
	)
`

// ClickHouseArchive batch-inserts observations with the native driver.
type ClickHouseArchive struct {
	conn driver.Conn
}

// Open parses the DSN, connects, verifies the connection with a ping and makes
// sure the archive table exists.
func Open(ctx context.Context, dsn string) (*ClickHouseArchive, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, createTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create archive table: %w", err)
	}

	return &ClickHouseArchive{conn: conn}, nil
}

// ArchiveObservations inserts rows as one batch. All rows share the same inserted_at.
func (a *ClickHouseArchive) ArchiveObservations(ctx context.Context, rows []models.ArchiveRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, insertRows)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, r := range rows {
		if err := batch.Append(rowValues(r, now)...); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}

// rowValues lists the columns of insertRows in order.
func rowValues(r models.ArchiveRow, insertedAt time.Time) []any {
	return []any{
		r.ObservationID,
		r.RunID,
		r.Store,
		r.SKU,
		r.ProductID,
		r.ListingID,
		r.Category,
		r.Price,
		r.Currency,
		r.Discount,
		r.ObservedAt.UTC(),
		insertedAt,
	}
}

func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}
