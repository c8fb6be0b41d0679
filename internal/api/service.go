package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/navid-fn/pricio/internal/ledger"
	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/storage"
)

// ProductView is a product with its active listing per store.
type ProductView struct {
	models.Product
	Listings []models.StoreListing `json:"listings"`
}

// HistoryView is a listing with its observations, oldest first.
type HistoryView struct {
	Listing      models.StoreListing       `json:"listing"`
	Observations []models.PriceObservation `json:"observations"`
}

type PriceService struct {
	store  storage.Store
	ledger *ledger.Ledger
	stores []string
}

func NewPriceService(store storage.Store, stores []string) *PriceService {
	return &PriceService{store: store, ledger: ledger.New(store), stores: stores}
}

func (s *PriceService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *PriceService) Runs(ctx context.Context, store string, limit int) ([]models.ScrapeRun, error) {
	return s.store.ListRuns(ctx, store, limit)
}

func (s *PriceService) Run(ctx context.Context, id uuid.UUID) (*models.ScrapeRun, error) {
	return s.store.RunByID(ctx, id)
}

func (s *PriceService) Product(ctx context.Context, id uuid.UUID) (*ProductView, error) {
	p, err := s.store.ProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &ProductView{Product: *p, Listings: []models.StoreListing{}}
	for _, store := range s.stores {
		l, err := s.store.ActiveListing(ctx, id, store)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		view.Listings = append(view.Listings, *l)
	}
	return view, nil
}

func (s *PriceService) History(ctx context.Context, listingID uuid.UUID) (*HistoryView, error) {
	l, err := s.store.ListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	observations, err := s.ledger.History(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if observations == nil {
		observations = []models.PriceObservation{}
	}
	return &HistoryView{Listing: *l, Observations: observations}, nil
}

func (s *PriceService) Drops(ctx context.Context, since time.Time) ([]models.PriceDropEvent, error) {
	drops, err := s.ledger.DropsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	if drops == nil {
		drops = []models.PriceDropEvent{}
	}
	return drops, nil
}
