package models

import (
	"time"

	"github.com/google/uuid"
)

// UserIdentity is what an identity provider resolves a credential to
type UserIdentity struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	SessionID string    `json:"session_id,omitempty"`
}

// TokenSession represents a session stored in Redis
type TokenSession struct {
	Identity   UserIdentity `json:"identity"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUsedAt time.Time    `json:"last_used_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	SessionID  string       `json:"session_id"`
}

func (ts *TokenSession) IsExpired(now time.Time) bool {
	return now.After(ts.ExpiresAt)
}

func (ts *TokenSession) Touch(now time.Time) {
	ts.LastUsedAt = now
}
