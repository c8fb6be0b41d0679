// Package ledger keeps the append-only price history of store listings.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/storage"
)

// ErrStaleObservation is returned for an observation older than the listing's latest one.
var ErrStaleObservation = errors.New("observation older than the latest one")

// Observation is a price seen for a listing.
type Observation struct {
	Price        decimal.Decimal
	RegularPrice decimal.NullDecimal
	Currency     string
	Discount     bool
	ObservedAt   time.Time
	RunID        uuid.UUID
}

type Ledger struct {
	reader storage.LedgerReader
}

func New(reader storage.LedgerReader) *Ledger {
	return &Ledger{reader: reader}
}

// Record appends obs to the listing's history when the price or currency differs
// from the latest observation. Otherwise only the listing's last-seen time moves and
// the latest observation is returned with appended=false.
func (lg *Ledger) Record(ctx context.Context, repo storage.ListingRepository, listing *models.StoreListing, obs Observation) (*models.PriceObservation, bool, error) {
	latest, err := repo.LatestObservation(ctx, listing.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	if latest != nil && obs.ObservedAt.Before(latest.ObservedAt) {
		return nil, false, fmt.Errorf("%w: listing %s observed at %s, latest at %s",
			ErrStaleObservation, listing.ID, obs.ObservedAt.Format(time.RFC3339), latest.ObservedAt.Format(time.RFC3339))
	}

	listing.LastSeenAt = obs.ObservedAt
	listing.Discount = obs.Discount
	listing.RegularPrice = obs.RegularPrice

	if latest != nil && latest.Price.Equal(obs.Price) && latest.Currency == obs.Currency {
		return latest, false, repo.UpdateListing(ctx, listing)
	}

	o := &models.PriceObservation{
		ListingID:  listing.ID,
		RunID:      obs.RunID,
		Price:      obs.Price,
		Currency:   obs.Currency,
		Discount:   obs.Discount,
		ObservedAt: obs.ObservedAt,
	}
	if latest != nil {
		o.PreviousPrice = decimal.NewNullDecimal(latest.Price)
	}
	if err := repo.AppendObservation(ctx, o); err != nil {
		return nil, false, err
	}

	listing.CurrentPrice = obs.Price
	listing.Currency = obs.Currency
	switch {
	case latest == nil:
		listing.MinPrice, listing.MaxPrice = obs.Price, obs.Price
	case obs.Price.LessThan(listing.MinPrice):
		listing.MinPrice = obs.Price
	case obs.Price.GreaterThan(listing.MaxPrice):
		listing.MaxPrice = obs.Price
	}
	if err := repo.UpdateListing(ctx, listing); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// History returns a listing's observations, oldest first.
func (lg *Ledger) History(ctx context.Context, listingID uuid.UUID) ([]models.PriceObservation, error) {
	return lg.reader.History(ctx, listingID)
}

// DropsSince returns a drop event for every listing whose latest observation is after
// since and strictly cheaper than the observation before it, in observation order.
func (lg *Ledger) DropsSince(ctx context.Context, since time.Time) ([]models.PriceDropEvent, error) {
	pairs, err := lg.reader.LatestObservationPairs(ctx, since)
	if err != nil {
		return nil, err
	}

	var events []models.PriceDropEvent
	for _, p := range pairs {
		if p.Currency != p.PreviousCurrency || !p.LatestPrice.LessThan(p.PreviousPrice) {
			continue
		}
		events = append(events, models.PriceDropEvent{
			ListingID:             p.ListingID,
			ProductID:             p.ProductID,
			Store:                 p.Store,
			SKU:                   p.SKU,
			ProductName:           p.ProductName,
			URL:                   p.URL,
			OldPrice:              p.PreviousPrice,
			NewPrice:              p.LatestPrice,
			Delta:                 p.PreviousPrice.Sub(p.LatestPrice),
			Currency:              p.Currency,
			ObservationID:         p.LatestID,
			PreviousObservationID: p.PreviousID,
			ObservedAt:            p.LatestAt,
		})
	}
	return events, nil
}
