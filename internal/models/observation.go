package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceObservation is an immutable price point of a StoreListing.
type PriceObservation struct {
	// ID is assigned by storage and grows monotonically.
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	ListingID uuid.UUID `gorm:"type:uuid;not null;index" json:"listing_id"`

	// RunID is the scrape run that observed the price.
	RunID uuid.UUID `gorm:"type:uuid" json:"run_id"`

	Price decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`

	// PreviousPrice is the price of the preceding observation, null for the first one.
	PreviousPrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"previous_price"`

	Currency string `json:"currency"`
	Discount bool   `json:"discount"`

	ObservedAt time.Time `gorm:"not null;index" json:"observed_at"`
}

func (PriceObservation) TableName() string { return "price_observations" }

// ArchiveRow is a committed observation denormalized for the analytics archive.
type ArchiveRow struct {
	ObservationID int64
	RunID         uuid.UUID
	Store         string
	SKU           string
	ProductID     uuid.UUID
	ListingID     uuid.UUID
	Category      string
	Price         decimal.Decimal
	Currency      string
	Discount      bool
	ObservedAt    time.Time
}
