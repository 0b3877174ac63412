package models

import (
	"time"

	"github.com/google/uuid"
)

type Category struct {
	Base
	BusinessID uuid.UUID `json:"business_id" gorm:"type:uuid;index;not null"`
	Name       string    `json:"name" gorm:"type:varchar(100);not null"`
}

func (Category) TableName() string {
	return "categories"
}

// Inventory is a stock line. Quantity never goes negative.
type Inventory struct {
	Base
	BusinessID        uuid.UUID  `json:"business_id" gorm:"type:uuid;index;not null"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty" gorm:"type:uuid;index"`
	Name              string     `json:"name" gorm:"type:varchar(255);not null"`
	SKU               string     `json:"sku" gorm:"type:varchar(64)"`
	Quantity          int        `json:"quantity" gorm:"not null;default:0"`
	LowStockThreshold int        `json:"low_stock_threshold" gorm:"not null;default:0"`
	UnitPriceCents    int64      `json:"unit_price_cents" gorm:"not null;default:0"`
}

func (Inventory) TableName() string {
	return "inventories"
}

// IsLowStock reports whether the remaining quantity is at or under the threshold.
func (i *Inventory) IsLowStock() bool {
	return i.Quantity <= i.LowStockThreshold
}

type Sale struct {
	Base
	BusinessID  uuid.UUID  `json:"business_id" gorm:"type:uuid;index;not null"`
	InventoryID *uuid.UUID `json:"inventory_id,omitempty" gorm:"type:uuid;index"`
	Quantity    int        `json:"quantity" gorm:"not null;default:1"`
	AmountCents int64      `json:"amount_cents" gorm:"not null"`
	SoldAt      time.Time  `json:"sold_at" gorm:"index"`
	RecordedBy  uuid.UUID  `json:"recorded_by" gorm:"type:uuid"`
}

func (Sale) TableName() string {
	return "sales"
}

type Expenditure struct {
	Base
	BusinessID  uuid.UUID `json:"business_id" gorm:"type:uuid;index;not null"`
	Description string    `json:"description" gorm:"type:varchar(255);not null"`
	AmountCents int64     `json:"amount_cents" gorm:"not null"`
	SpentAt     time.Time `json:"spent_at" gorm:"index"`
	RecordedBy  uuid.UUID `json:"recorded_by" gorm:"type:uuid"`
}

func (Expenditure) TableName() string {
	return "expenditures"
}
