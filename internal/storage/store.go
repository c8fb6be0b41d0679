// Package storage persists products, listings, the price ledger, scrape runs and
// notification state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/pricio/internal/models"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("unique constraint violated")

	// ErrUnavailable wraps any other database failure. Scrape runs treat it as fatal.
	ErrUnavailable = errors.New("storage unavailable")
)

// ProductRepository reads and creates canonical products.
type ProductRepository interface {
	ProductByKey(ctx context.Context, key string) (*models.Product, error)
	ProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)

	// InsertProduct creates p unless its canonical key exists. inserted is false on a
	// key conflict and p is left untouched.
	InsertProduct(ctx context.Context, p *models.Product) (inserted bool, err error)

	// SearchProducts returns up to limit products whose name or brand contains
	// query, case-insensitively, ordered by name.
	SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error)
}

// ListingRepository covers store listings and their price observations. Within
// Store.WithinTx all of its calls share one transaction.
type ListingRepository interface {
	ListingByStoreSKU(ctx context.Context, store, sku string) (*models.StoreListing, error)
	ListingByID(ctx context.Context, id uuid.UUID) (*models.StoreListing, error)

	// ActiveListing returns the active listing of a product in a store.
	ActiveListing(ctx context.Context, productID uuid.UUID, store string) (*models.StoreListing, error)

	CreateListing(ctx context.Context, l *models.StoreListing) error
	UpdateListing(ctx context.Context, l *models.StoreListing) error

	LatestObservation(ctx context.Context, listingID uuid.UUID) (*models.PriceObservation, error)

	// AppendObservation stores o and assigns its ID.
	AppendObservation(ctx context.Context, o *models.PriceObservation) error
}

// ObservationPair is the latest observation of a listing next to the one before it.
type ObservationPair struct {
	ListingID   uuid.UUID
	ProductID   uuid.UUID
	Store       string
	SKU         string
	URL         string
	ProductName string
	Currency    string

	LatestID    int64
	LatestPrice decimal.Decimal
	LatestAt    time.Time

	PreviousID       int64
	PreviousPrice    decimal.Decimal
	PreviousCurrency string
}

// LedgerReader serves price history queries.
type LedgerReader interface {
	History(ctx context.Context, listingID uuid.UUID) ([]models.PriceObservation, error)

	// LatestObservationPairs returns listings with at least two observations whose
	// latest observation is after since.
	LatestObservationPairs(ctx context.Context, since time.Time) ([]ObservationPair, error)
}

// RunRepository persists scrape runs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	SaveRun(ctx context.Context, run *models.ScrapeRun) error
	RunByID(ctx context.Context, id uuid.UUID) (*models.ScrapeRun, error)

	// ListRuns returns the newest runs first. An empty store lists every store.
	ListRuns(ctx context.Context, store string, limit int) ([]models.ScrapeRun, error)
}

// NotifyRepository keeps the drop scan watermark and the delivery log.
type NotifyRepository interface {
	// Watermark returns ok=false when name has never been stored.
	Watermark(ctx context.Context, name string) (since time.Time, ok bool, err error)
	SetWatermark(ctx context.Context, name string, since time.Time) error

	Delivered(ctx context.Context, consumer string, listingID uuid.UUID, observationID int64) (bool, error)
	MarkDelivered(ctx context.Context, consumer string, listingID uuid.UUID, observationID int64) error
}

// SubscriptionRepository stores chat subscriptions to product price drops.
type SubscriptionRepository interface {
	// SaveSubscription creates or replaces the (chat, product) subscription.
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, chatID int64, productID uuid.UUID) (removed bool, err error)
	SubscriptionsForProduct(ctx context.Context, productID uuid.UUID) ([]models.Subscription, error)
	SubscriptionsForChat(ctx context.Context, chatID int64) ([]models.Subscription, error)
}

// Store is the persistence boundary of the application.
// Implementations must be safe for concurrent use.
type Store interface {
	ProductRepository
	ListingRepository
	LedgerReader
	RunRepository
	NotifyRepository
	SubscriptionRepository

	// WithinTx runs fn in one transaction. Listing and observation writes made through
	// the given repository are committed together when fn returns nil and discarded
	// otherwise.
	WithinTx(ctx context.Context, fn func(ListingRepository) error) error

	Ping(ctx context.Context) error
	Close() error
}
