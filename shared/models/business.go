package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Business is the root of a tenant. Everything else hangs off its ID.
type Business struct {
	Base
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	OwnerUserID uuid.UUID `json:"owner_user_id" gorm:"type:uuid;uniqueIndex;not null"`
}

func (Business) TableName() string {
	return "businesses"
}

// Staff links a User to a Business.
type Staff struct {
	Base
	UserID       uuid.UUID  `json:"user_id" gorm:"type:uuid;index;not null"`
	BusinessID   uuid.UUID  `json:"business_id" gorm:"type:uuid;index;not null"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty" gorm:"type:uuid;index"`
	Position     string     `json:"position" gorm:"type:varchar(100)"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (Staff) TableName() string {
	return "staff"
}

type Department struct {
	Base
	BusinessID uuid.UUID `json:"business_id" gorm:"type:uuid;index;not null"`
	Name       string    `json:"name" gorm:"type:varchar(100);not null"`
}

func (Department) TableName() string {
	return "departments"
}

// Invite is a single-use invitation token. Invites are never tombstoned:
// they are physically removed once they stop mattering.
type Invite struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	BusinessID uuid.UUID  `json:"business_id" gorm:"type:uuid;index;not null"`
	Email      string     `json:"email" gorm:"type:varchar(255);not null"`
	Role       Role       `json:"role" gorm:"type:varchar(20);not null"`
	TokenHash  string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	InvitedBy  uuid.UUID  `json:"invited_by" gorm:"type:uuid"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (Invite) TableName() string {
	return "invites"
}

func (i *Invite) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the invite can no longer be accepted.
func (i *Invite) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
