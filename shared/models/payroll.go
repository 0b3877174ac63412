package models

import (
	"github.com/google/uuid"
)

// PayrollBatch groups the payments of one period. Once Locked the batch
// and its items are read-only.
type PayrollBatch struct {
	Base
	BusinessID uuid.UUID `json:"business_id" gorm:"type:uuid;index;not null"`
	Period     string    `json:"period" gorm:"type:varchar(7);not null"`
	Locked     bool      `json:"locked" gorm:"not null;default:false"`

	Items []PayrollBatchItem `json:"items,omitempty" gorm:"foreignKey:BatchID"`
}

func (PayrollBatch) TableName() string {
	return "payroll_batches"
}

// PayrollBatchItem reaches its tenant only through BatchID.
type PayrollBatchItem struct {
	Base
	BatchID     uuid.UUID `json:"batch_id" gorm:"type:uuid;index;not null"`
	StaffID     uuid.UUID `json:"staff_id" gorm:"type:uuid;index;not null"`
	AmountCents int64     `json:"amount_cents" gorm:"not null"`
	Paid        bool      `json:"paid" gorm:"not null;default:false"`
}

func (PayrollBatchItem) TableName() string {
	return "payroll_batch_items"
}

// Total sums the item amounts of a loaded batch.
func (b *PayrollBatch) Total() int64 {
	var total int64
	for _, item := range b.Items {
		total += item.AmountCents
	}
	return total
}
