// Package matcher resolves normalized store records to canonical products and
// binds them to store listings.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/scraper"
	"github.com/navid-fn/pricio/internal/storage"
)

// Matcher finds or creates the Product of a record. Products are written through
// the products repository outside any category transaction; listings are written
// through the repository passed to each call.
type Matcher struct {
	products storage.ProductRepository
	locks    keyedMutex
}

func New(products storage.ProductRepository) *Matcher {
	return &Matcher{products: products}
}

// Match returns the product for rec. An existing (store, sku) listing wins over the
// canonical key, so a store renaming an item keeps its product. created reports that
// this call inserted the product.
func (m *Matcher) Match(ctx context.Context, listings storage.ListingRepository, rec scraper.NormalizedRecord) (*models.Product, bool, error) {
	l, err := listings.ListingByStoreSKU(ctx, rec.Store, rec.SKU)
	switch {
	case err == nil:
		p, err := m.products.ProductByID(ctx, l.ProductID)
		if err != nil {
			return nil, false, fmt.Errorf("product of listing %s: %w", l.ID, err)
		}
		return p, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, err
	}

	unlock := m.locks.Lock(rec.CanonicalKey)
	defer unlock()

	p, err := m.products.ProductByKey(ctx, rec.CanonicalKey)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	p = &models.Product{
		ID:           uuid.New(),
		CanonicalKey: rec.CanonicalKey,
		Name:         rec.Name,
		Brand:        rec.Brand,
		Category:     rec.Category,
		Unit:         rec.Unit,
	}
	inserted, err := m.products.InsertProduct(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return p, true, nil
	}

	// another process inserted the key first
	p, err = m.products.ProductByKey(ctx, rec.CanonicalKey)
	if err != nil {
		return nil, false, fmt.Errorf("re-read product after conflict: %w", err)
	}
	return p, false, nil
}

// Bind returns the listing of rec in its store, creating it for product when the
// SKU is new. A product keeps one active listing per store. A new or reappearing
// SKU takes over only when the active listing has not been seen since runStart, so
// two SKUs sharing a key in one store do not swap on every run.
func (m *Matcher) Bind(ctx context.Context, listings storage.ListingRepository, product *models.Product, rec scraper.NormalizedRecord, runStart, seenAt time.Time) (*models.StoreListing, bool, error) {
	l, err := listings.ListingByStoreSKU(ctx, rec.Store, rec.SKU)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	if l != nil {
		refresh(l, rec)
		if !l.Active {
			replaced, err := takeOver(ctx, listings, l.ProductID, l.Store, runStart)
			if err != nil {
				return nil, false, err
			}
			l.Active = replaced
		}
		if err := listings.UpdateListing(ctx, l); err != nil {
			return nil, false, err
		}
		return l, false, nil
	}

	active, err := takeOver(ctx, listings, product.ID, rec.Store, runStart)
	if err != nil {
		return nil, false, err
	}
	l = &models.StoreListing{
		ID:           uuid.New(),
		ProductID:    product.ID,
		Store:        rec.Store,
		SKU:          rec.SKU,
		Name:         rec.Name,
		URL:          rec.URL,
		ImageURL:     rec.ImageURL,
		CategoryPath: rec.CategoryPath,
		CurrentPrice: rec.Price,
		RegularPrice: rec.RegularPrice,
		Currency:     rec.Currency,
		Discount:     rec.Discount,
		MinPrice:     rec.Price,
		MaxPrice:     rec.Price,
		Active:       active,
		FirstSeenAt:  seenAt,
		LastSeenAt:   seenAt,
	}
	if err := listings.CreateListing(ctx, l); err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func refresh(l *models.StoreListing, rec scraper.NormalizedRecord) {
	l.Name = rec.Name
	if rec.URL != "" {
		l.URL = rec.URL
	}
	if rec.ImageURL != "" {
		l.ImageURL = rec.ImageURL
	}
	if rec.CategoryPath != "" {
		l.CategoryPath = rec.CategoryPath
	}
}

// takeOver deactivates the active listing of the product in store unless it was
// seen since runStart, and reports whether the caller may become active.
func takeOver(ctx context.Context, listings storage.ListingRepository, productID uuid.UUID, store string, runStart time.Time) (bool, error) {
	active, err := listings.ActiveListing(ctx, productID, store)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !active.LastSeenAt.Before(runStart) {
		return false, nil
	}
	active.Active = false
	return true, listings.UpdateListing(ctx, active)
}

// keyedMutex holds one lock per key while it is in use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
