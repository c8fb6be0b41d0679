package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceDropEvent is derived from the latest two observations of a listing.
type PriceDropEvent struct {
	ListingID   uuid.UUID `json:"listing_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Store       string    `json:"store"`
	SKU         string    `json:"sku"`
	ProductName string    `json:"product_name"`
	URL         string    `json:"url"`

	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`

	// Delta is OldPrice - NewPrice, always positive.
	Delta    decimal.Decimal `json:"delta"`
	Currency string          `json:"currency"`

	// ObservationID identifies the observation that carries NewPrice.
	ObservationID         int64     `json:"observation_id"`
	PreviousObservationID int64     `json:"previous_observation_id"`
	ObservedAt            time.Time `json:"observed_at"`
}

// Percent returns the drop relative to the old price.
func (e PriceDropEvent) Percent() decimal.Decimal {
	if e.OldPrice.IsZero() {
		return decimal.Zero
	}
	return e.Delta.Div(e.OldPrice).Mul(decimal.NewFromInt(100)).Round(1)
}

// CandidateRecord is a store item as parsed, before normalization.
type CandidateRecord struct {
	Store string
	SKU   string
	Name  string

	// Brand is set when the store reports one.
	Brand string

	// Price is the raw price text; PromoPrice is set when a promotion applies.
	Price      string
	PromoPrice string

	CategoryPath string
	UnitText     string
	URL          string
	ImageURL     string

	// Currency is the store default used when the price text has no symbol.
	Currency string
}
