package configs

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CategoryConfig is a configured catalog category.
type CategoryConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StoreConfig describes one retailer.
type StoreConfig struct {
	ID        string `yaml:"-"`
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIURL    string `yaml:"api_url"`
	StoreCode string `yaml:"store_code"`
	Currency  string `yaml:"currency"`
	PageSize  int    `yaml:"page_size"`
	MaxPages  int    `yaml:"max_pages"`

	// Categories is the configured category set. Empty means discover at run time.
	Categories []CategoryConfig `yaml:"categories"`
}

// Stores is the store catalog keyed by store id (5ka, magnit).
type Stores map[string]StoreConfig

type storesFile struct {
	Stores map[string]StoreConfig `yaml:"stores"`
}

// LoadStores reads the YAML store catalog.
func LoadStores(path string) (Stores, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store catalog: %w", err)
	}
	return ParseStores(data)
}

// ParseStores decodes a store catalog and applies defaults.
func ParseStores(data []byte) (Stores, error) {
	var file storesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse store catalog: %w", err)
	}
	if len(file.Stores) == 0 {
		return nil, fmt.Errorf("store catalog has no stores")
	}

	stores := make(Stores, len(file.Stores))
	for id, s := range file.Stores {
		if s.BaseURL == "" {
			return nil, fmt.Errorf("store %q: base_url is required", id)
		}
		s.ID = id
		if s.Currency == "" {
			s.Currency = "RUB"
		}
		if s.PageSize <= 0 {
			s.PageSize = 50
		}
		if s.MaxPages <= 0 {
			s.MaxPages = 20
		}
		if s.Name == "" {
			s.Name = id
		}
		stores[id] = s
	}
	return stores, nil
}

// Get returns the store with the given id.
func (s Stores) Get(id string) (StoreConfig, error) {
	store, ok := s[id]
	if !ok {
		return StoreConfig{}, fmt.Errorf("unknown store %q (known: %v)", id, s.IDs())
	}
	return store, nil
}

// IDs returns the sorted store ids.
func (s Stores) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
