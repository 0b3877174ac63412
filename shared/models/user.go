package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role is the stored role of a user inside their business
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleSubAdmin Role = "SUB_ADMIN"
	RoleStaff    Role = "STAFF"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSubAdmin, RoleStaff:
		return true
	}
	return false
}

// User is a login identity. Admins own a Business; everyone else
// reaches one through a Staff row.
type User struct {
	Base
	Email        string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	FullName     string     `json:"full_name" gorm:"type:varchar(255)"`
	Role         Role       `json:"role" gorm:"type:varchar(20);not null;default:STAFF"`
	CognitoSub   *string    `json:"-" gorm:"type:varchar(255);uniqueIndex"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// SetPassword stores a bcrypt hash of password for local logins.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Identity projects the stored user onto the session identity.
func (u *User) Identity() UserIdentity {
	return UserIdentity{
		UserID:   u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
	}
}
