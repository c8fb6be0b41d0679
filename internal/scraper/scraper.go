// Package scraper defines the per-store adapter contract and turns raw store items
// into normalized records.
package scraper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/models"
)

// PageGetter fetches a URL. *crawler.Fetcher implements it.
type PageGetter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Category is one catalog section of a store.
type Category struct {
	ID   string
	Name string
	URL  string
}

// Payload is one raw page of a category.
type Payload struct {
	Category Category
	URL      string
	Page     int
	Body     []byte
}

// Adapter is implemented once per store.
type Adapter interface {
	// Name returns the store id.
	Name() string

	// Categories discovers the store's catalog categories.
	Categories(ctx context.Context, pages PageGetter) ([]Category, error)

	// Fetch returns every raw page of a category. A fetch failure fails the whole category.
	Fetch(ctx context.Context, pages PageGetter, category Category) ([]Payload, error)

	// Parse extracts candidate records. Malformed items are reported, not fatal.
	Parse(payload Payload) ([]models.CandidateRecord, []*ParseSkipped)
}

// Factory builds an adapter from its store configuration.
type Factory func(cfg configs.StoreConfig) Adapter

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a store adapter available by id. Drivers call it from init.
func Register(store string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[store]; dup {
		panic(fmt.Sprintf("scraper: adapter %q registered twice", store))
	}
	registry[store] = factory
}

// New returns the adapter registered for cfg.ID.
func New(cfg configs.StoreConfig) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.ID]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter for store %q (registered: %v)", cfg.ID, Registered())
	}
	return factory(cfg), nil
}

// Registered returns the sorted ids of registered adapters.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfiguredCategories converts configured categories, resolving URLs with urlFor.
func ConfiguredCategories(cfg configs.StoreConfig, urlFor func(id string) string) []Category {
	categories := make([]Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories = append(categories, Category{ID: c.ID, Name: c.Name, URL: urlFor(c.ID)})
	}
	return categories
}
