package storage

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navid-fn/pricio/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. Transactions are serialized and work on a
// copy of the listing data that replaces the committed state on success.
type MemoryStore struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	products    map[uuid.UUID]models.Product
	productKeys map[string]uuid.UUID
	ledger      *ledgerData
	runs        map[uuid.UUID]models.ScrapeRun
	watermarks  map[string]time.Time
	deliveries  map[deliveryKey]time.Time
	subs        map[subscriptionKey]models.Subscription
}

type deliveryKey struct {
	consumer      string
	listingID     uuid.UUID
	observationID int64
}

type subscriptionKey struct {
	chatID    int64
	productID uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[uuid.UUID]models.Product),
		productKeys: make(map[string]uuid.UUID),
		ledger:      newLedgerData(),
		runs:        make(map[uuid.UUID]models.ScrapeRun),
		watermarks:  make(map[string]time.Time),
		deliveries:  make(map[deliveryKey]time.Time),
		subs:        make(map[subscriptionKey]models.Subscription),
	}
}

// products

func (s *MemoryStore) ProductByKey(_ context.Context, key string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.productKeys[key]
	if !ok {
		return nil, ErrNotFound
	}
	p := s.products[id]
	return &p, nil
}

func (s *MemoryStore) ProductByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) InsertProduct(ctx context.Context, p *models.Product) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.productKeys[p.CanonicalKey]; exists {
		return false, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = *p
	s.productKeys[p.CanonicalKey] = p.ID
	return true, nil
}

func (s *MemoryStore) SearchProducts(_ context.Context, query string, limit int) ([]models.Product, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	var found []models.Product
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), query) || strings.Contains(strings.ToLower(p.Brand), query) {
			found = append(found, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool {
		if found[i].Name != found[j].Name {
			return found[i].Name < found[j].Name
		}
		return found[i].ID.String() < found[j].ID.String()
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// listings outside a transaction

func (s *MemoryStore) read(fn func(tx *memTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{d: s.ledger})
}

func (s *MemoryStore) ListingByStoreSKU(ctx context.Context, store, sku string) (l *models.StoreListing, err error) {
	err = s.read(func(tx *memTx) error {
		l, err = tx.ListingByStoreSKU(ctx, store, sku)
		return err
	})
	return l, err
}

func (s *MemoryStore) ListingByID(ctx context.Context, id uuid.UUID) (l *models.StoreListing, err error) {
	err = s.read(func(tx *memTx) error {
		l, err = tx.ListingByID(ctx, id)
		return err
	})
	return l, err
}

func (s *MemoryStore) ActiveListing(ctx context.Context, productID uuid.UUID, store string) (l *models.StoreListing, err error) {
	err = s.read(func(tx *memTx) error {
		l, err = tx.ActiveListing(ctx, productID, store)
		return err
	})
	return l, err
}

func (s *MemoryStore) LatestObservation(ctx context.Context, listingID uuid.UUID) (o *models.PriceObservation, err error) {
	err = s.read(func(tx *memTx) error {
		o, err = tx.LatestObservation(ctx, listingID)
		return err
	})
	return o, err
}

func (s *MemoryStore) CreateListing(ctx context.Context, l *models.StoreListing) error {
	return s.WithinTx(ctx, func(r ListingRepository) error { return r.CreateListing(ctx, l) })
}

func (s *MemoryStore) UpdateListing(ctx context.Context, l *models.StoreListing) error {
	return s.WithinTx(ctx, func(r ListingRepository) error { return r.UpdateListing(ctx, l) })
}

func (s *MemoryStore) AppendObservation(ctx context.Context, o *models.PriceObservation) error {
	return s.WithinTx(ctx, func(r ListingRepository) error { return r.AppendObservation(ctx, o) })
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ListingRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.ledger.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.ledger = work
	s.mu.Unlock()
	return nil
}

// ledger queries

func (s *MemoryStore) History(_ context.Context, listingID uuid.UUID) ([]models.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := slices.Clone(s.ledger.observations[listingID])
	sortObservations(history)
	return history, nil
}

func (s *MemoryStore) LatestObservationPairs(_ context.Context, since time.Time) ([]ObservationPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []ObservationPair
	for listingID, observations := range s.ledger.observations {
		if len(observations) < 2 {
			continue
		}
		sorted := slices.Clone(observations)
		sortObservations(sorted)
		latest, previous := sorted[len(sorted)-1], sorted[len(sorted)-2]
		if !latest.ObservedAt.After(since) {
			continue
		}

		l := s.ledger.listings[listingID]
		name := l.Name
		if name == "" {
			name = s.products[l.ProductID].Name
		}
		pairs = append(pairs, ObservationPair{
			ListingID:     listingID,
			ProductID:     l.ProductID,
			Store:         l.Store,
			SKU:           l.SKU,
			URL:           l.URL,
			ProductName:   name,
			Currency:      latest.Currency,
			LatestID:      latest.ID,
			LatestPrice:   latest.Price,
			LatestAt:      latest.ObservedAt,
			PreviousID:       previous.ID,
			PreviousPrice:    previous.Price,
			PreviousCurrency: previous.Currency,
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].LatestAt.Equal(pairs[j].LatestAt) {
			return pairs[i].LatestID < pairs[j].LatestID
		}
		return pairs[i].LatestAt.Before(pairs[j].LatestAt)
	})
	return pairs, nil
}

// runs

func (s *MemoryStore) CreateRun(_ context.Context, run *models.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := s.runs[run.ID]; exists {
		return ErrConflict
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run *models.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return ErrNotFound
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

func (s *MemoryStore) RunByID(_ context.Context, id uuid.UUID) (*models.ScrapeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	run = cloneRun(run)
	return &run, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, store string, limit int) ([]models.ScrapeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []models.ScrapeRun
	for _, run := range s.runs {
		if store == "" || run.Store == store {
			runs = append(runs, cloneRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func cloneRun(run models.ScrapeRun) models.ScrapeRun {
	run.Categories = slices.Clone(run.Categories)
	run.FailedCategories = slices.Clone(run.FailedCategories)
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		run.FinishedAt = &t
	}
	return run
}

// notification state

func (s *MemoryStore) Watermark(_ context.Context, name string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	since, ok := s.watermarks[name]
	return since, ok, nil
}

func (s *MemoryStore) SetWatermark(_ context.Context, name string, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[name] = since
	return nil
}

func (s *MemoryStore) Delivered(_ context.Context, consumer string, listingID uuid.UUID, observationID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deliveries[deliveryKey{consumer, listingID, observationID}]
	return ok, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, consumer string, listingID uuid.UUID, observationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deliveryKey{consumer, listingID, observationID}
	if _, ok := s.deliveries[key]; !ok {
		s.deliveries[key] = time.Now()
	}
	return nil
}

// subscriptions

func (s *MemoryStore) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subscriptionKey{sub.ChatID, sub.ProductID}
	if existing, ok := s.subs[key]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		if sub.ID == uuid.Nil {
			sub.ID = uuid.New()
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now()
		}
	}
	s.subs[key] = *sub
	return nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, chatID int64, productID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subscriptionKey{chatID, productID}
	_, ok := s.subs[key]
	delete(s.subs, key)
	return ok, nil
}

func (s *MemoryStore) SubscriptionsForProduct(_ context.Context, productID uuid.UUID) ([]models.Subscription, error) {
	return s.filterSubscriptions(func(sub models.Subscription) bool { return sub.ProductID == productID }), nil
}

func (s *MemoryStore) SubscriptionsForChat(_ context.Context, chatID int64) ([]models.Subscription, error) {
	return s.filterSubscriptions(func(sub models.Subscription) bool { return sub.ChatID == chatID }), nil
}

func (s *MemoryStore) filterSubscriptions(keep func(models.Subscription) bool) []models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// ledgerData is the transactional part of the memory store.
type ledgerData struct {
	listings     map[uuid.UUID]models.StoreListing
	skus         map[string]uuid.UUID
	observations map[uuid.UUID][]models.PriceObservation
	nextObsID    int64
}

func newLedgerData() *ledgerData {
	return &ledgerData{
		listings:     make(map[uuid.UUID]models.StoreListing),
		skus:         make(map[string]uuid.UUID),
		observations: make(map[uuid.UUID][]models.PriceObservation),
	}
}

func (d *ledgerData) clone() *ledgerData {
	c := &ledgerData{
		listings:     make(map[uuid.UUID]models.StoreListing, len(d.listings)),
		skus:         make(map[string]uuid.UUID, len(d.skus)),
		observations: make(map[uuid.UUID][]models.PriceObservation, len(d.observations)),
		nextObsID:    d.nextObsID,
	}
	for k, v := range d.listings {
		c.listings[k] = v
	}
	for k, v := range d.skus {
		c.skus[k] = v
	}
	for k, v := range d.observations {
		c.observations[k] = slices.Clone(v)
	}
	return c
}

func skuKey(store, sku string) string { return store + "\x00" + sku }

// memTx implements ListingRepository over one ledgerData.
type memTx struct {
	d *ledgerData
}

func (t *memTx) ListingByStoreSKU(_ context.Context, store, sku string) (*models.StoreListing, error) {
	id, ok := t.d.skus[skuKey(store, sku)]
	if !ok {
		return nil, ErrNotFound
	}
	l := t.d.listings[id]
	return &l, nil
}

func (t *memTx) ListingByID(_ context.Context, id uuid.UUID) (*models.StoreListing, error) {
	l, ok := t.d.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (t *memTx) ActiveListing(_ context.Context, productID uuid.UUID, store string) (*models.StoreListing, error) {
	for _, l := range t.d.listings {
		if l.Active && l.ProductID == productID && l.Store == store {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

// activeConflict reports another active listing of the same product in the same store.
func (t *memTx) activeConflict(l *models.StoreListing) bool {
	if !l.Active {
		return false
	}
	for id, other := range t.d.listings {
		if id != l.ID && other.Active && other.ProductID == l.ProductID && other.Store == l.Store {
			return true
		}
	}
	return false
}

func (t *memTx) CreateListing(_ context.Context, l *models.StoreListing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if _, exists := t.d.skus[skuKey(l.Store, l.SKU)]; exists {
		return ErrConflict
	}
	if _, exists := t.d.listings[l.ID]; exists || t.activeConflict(l) {
		return ErrConflict
	}
	t.d.listings[l.ID] = *l
	t.d.skus[skuKey(l.Store, l.SKU)] = l.ID
	return nil
}

func (t *memTx) UpdateListing(_ context.Context, l *models.StoreListing) error {
	old, ok := t.d.listings[l.ID]
	if !ok {
		return ErrNotFound
	}
	if old.Store != l.Store || old.SKU != l.SKU {
		if _, taken := t.d.skus[skuKey(l.Store, l.SKU)]; taken {
			return ErrConflict
		}
	}
	if t.activeConflict(l) {
		return ErrConflict
	}
	delete(t.d.skus, skuKey(old.Store, old.SKU))
	t.d.skus[skuKey(l.Store, l.SKU)] = l.ID
	t.d.listings[l.ID] = *l
	return nil
}

func (t *memTx) LatestObservation(_ context.Context, listingID uuid.UUID) (*models.PriceObservation, error) {
	observations := t.d.observations[listingID]
	if len(observations) == 0 {
		return nil, ErrNotFound
	}
	latest := observations[0]
	for _, o := range observations[1:] {
		if observedLess(latest, o) {
			latest = o
		}
	}
	return &latest, nil
}

func (t *memTx) AppendObservation(_ context.Context, o *models.PriceObservation) error {
	if _, ok := t.d.listings[o.ListingID]; !ok {
		return ErrNotFound
	}
	t.d.nextObsID++
	o.ID = t.d.nextObsID
	t.d.observations[o.ListingID] = append(t.d.observations[o.ListingID], *o)
	return nil
}

func observedLess(a, b models.PriceObservation) bool {
	if a.ObservedAt.Equal(b.ObservedAt) {
		return a.ID < b.ID
	}
	return a.ObservedAt.Before(b.ObservedAt)
}

func sortObservations(observations []models.PriceObservation) {
	sort.Slice(observations, func(i, j int) bool { return observedLess(observations[i], observations[j]) })
}
