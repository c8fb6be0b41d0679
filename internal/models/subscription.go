package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription asks for price drop messages about a product in a Telegram chat.
type Subscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    int64     `gorm:"not null;uniqueIndex:idx_subscription_chat_product" json:"chat_id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_chat_product" json:"product_id"`

	// TargetPrice triggers a message once the price is at or below it.
	TargetPrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"target_price"`

	// NotifyAnyDecrease triggers a message on every drop.
	NotifyAnyDecrease bool `json:"notify_any_decrease"`

	CreatedAt time.Time `json:"created_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Wants reports whether a drop event is worth a message for this subscription.
func (s Subscription) Wants(e PriceDropEvent) bool {
	if !e.NewPrice.LessThan(e.OldPrice) {
		return false
	}
	if s.NotifyAnyDecrease {
		return true
	}
	return s.TargetPrice.Valid && e.NewPrice.LessThanOrEqual(s.TargetPrice.Decimal)
}

// Watermark is the persisted scan position of a drop consumer.
type Watermark struct {
	Name      string    `gorm:"primaryKey" json:"name"`
	Since     time.Time `json:"since"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Watermark) TableName() string { return "watermarks" }

// Delivery records that a consumer handled a drop event.
type Delivery struct {
	Consumer      string    `gorm:"primaryKey"`
	ListingID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ObservationID int64     `gorm:"primaryKey"`
	DeliveredAt   time.Time
}

func (Delivery) TableName() string { return "deliveries" }
