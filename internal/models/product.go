// Package models defines the domain models used across the application.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the canonical identity of a grocery item across stores.
type Product struct {
	// ID is the stable product identifier.
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	// CanonicalKey is the normalized name|brand|unit string. Unique across products.
	CanonicalKey string `gorm:"uniqueIndex;not null" json:"canonical_key"`

	// Name is the display name as first seen.
	Name string `json:"name"`

	// Brand may be empty when neither the store nor the name carries one.
	Brand string `json:"brand"`

	// Category is the top-level category of the first listing.
	Category string `json:"category"`

	// Unit is the normalized size descriptor (e.g., "930ml", "1000g", "10pcs").
	Unit string `json:"unit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// StoreListing binds a Product to the way one store currently lists it.
// (Store, SKU) is unique, and a product has at most one active listing per store.
type StoreListing struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`

	// Store is the store id (e.g., "5ka", "magnit").
	Store string `gorm:"not null" json:"store"`

	// SKU is the store-specific product key.
	SKU string `gorm:"column:sku;not null" json:"sku"`

	// Name is the listing title as the store shows it.
	Name         string `json:"name"`
	URL          string `gorm:"column:url" json:"url"`
	ImageURL     string `gorm:"column:image_url" json:"image_url"`
	CategoryPath string `json:"category_path"`

	// CurrentPrice is the price of the latest observation.
	CurrentPrice decimal.Decimal `gorm:"type:numeric(12,2)" json:"current_price"`

	// RegularPrice is the non-promotional price when the store shows one.
	RegularPrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"regular_price"`

	Currency string `json:"currency"`
	Discount bool   `json:"discount"`

	// MinPrice and MaxPrice track the observed price range.
	MinPrice decimal.Decimal `gorm:"type:numeric(12,2)" json:"min_price"`
	MaxPrice decimal.Decimal `gorm:"type:numeric(12,2)" json:"max_price"`

	// Active is false once the store relisted the product under another SKU.
	Active bool `json:"active"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func (StoreListing) TableName() string { return "store_listings" }
