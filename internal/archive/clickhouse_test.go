package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/pricio/internal/models"
)

func TestRowValuesMatchInsertColumns(t *testing.T) {
	start := strings.Index(insertRows, "(")
	end := strings.LastIndex(insertRows, ")")
	columns := strings.Split(insertRows[start+1:end], ",")

	values := rowValues(models.ArchiveRow{}, time.Now())
	if len(values) != len(columns) {
		t.Fatalf("Expected %d values for %d columns, got %d", len(columns), len(columns), len(values))
	}
}

func TestRowValues(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, moscow)
	inserted := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	row := models.ArchiveRow{
		ObservationID: 42,
		RunID:         uuid.New(),
		Store:         "5ka",
		SKU:           "3471",
		ListingID:     uuid.New(),
		Price:         decimal.RequireFromString("89.99"),
		Currency:      "RUB",
		Discount:      true,
		ObservedAt:    observed,
	}

	values := rowValues(row, inserted)
	if values[0] != int64(42) || values[2] != "5ka" || values[3] != "3471" {
		t.Errorf("Unexpected leading values: %v", values[:4])
	}
	if price := values[7].(decimal.Decimal); !price.Equal(row.Price) {
		t.Errorf("Expected price %s, got %s", row.Price, price)
	}
	if at := values[10].(time.Time); at.Location() != time.UTC || !at.Equal(observed) {
		t.Errorf("Expected observed_at in UTC, got %v", at)
	}
	if values[11] != inserted {
		t.Errorf("Expected inserted_at %v, got %v", inserted, values[11])
	}
}

func TestArchiveEmptyBatchIsNoop(t *testing.T) {
	var a ClickHouseArchive
	if err := a.ArchiveObservations(context.Background(), nil); err != nil {
		t.Errorf("Expected nil error for an empty batch, got %v", err)
	}
}
