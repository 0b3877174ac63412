package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the columns shared by every soft-deletable table.
// A row is live only while DeletedAt is NULL.
type Base struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns a UUID when the caller did not set one.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// IsDeleted reports whether the row has been tombstoned.
func (b *Base) IsDeleted() bool {
	return b.DeletedAt.Valid
}

// All returns every model managed by the back office, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Business{},
		&Department{},
		&Staff{},
		&Category{},
		&Inventory{},
		&Sale{},
		&Expenditure{},
		&PayrollBatch{},
		&PayrollBatchItem{},
		&Invite{},
	}
}
