// Package tenancy resolves which business a caller acts on, and whether
// they may act on it at all.
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

var (
	ErrNoIdentity       = fmt.Errorf("no authenticated caller: %w", utils.ErrUnauthorized)
	ErrUserNotFound     = fmt.Errorf("caller account not found: %w", utils.ErrUnauthorized)
	ErrNotAdmin         = fmt.Errorf("only the business admin can do this: %w", utils.ErrForbidden)
	ErrNotMember        = fmt.Errorf("caller is no longer a member of this business: %w", utils.ErrForbidden)
	ErrBusinessNotFound = fmt.Errorf("no business found for caller: %w", utils.ErrNotFound)
	ErrBusinessGone     = fmt.Errorf("business has already been deleted: %w", utils.ErrGone)
)

// Membership is the resolved caller together with the business they act on.
type Membership struct {
	User     models.User
	Business models.Business
	// Staff is nil for the owning admin.
	Staff *models.Staff
}

// CanManage reports whether the member may change business-wide settings.
func (m *Membership) CanManage() bool {
	return m.User.Role == models.RoleAdmin || m.User.Role == models.RoleSubAdmin
}

// StoredUser loads the caller's user row. Tombstoned rows are returned too;
// the business check decides what a deleted account may still see.
func StoredUser(ctx context.Context, db *gorm.DB, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Unscoped().Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// OwnedBusiness loads the business owned by ownerID, returning
// ErrBusinessGone when it has been tombstoned.
func OwnedBusiness(ctx context.Context, db *gorm.DB, ownerID uuid.UUID) (*models.Business, error) {
	var business models.Business
	err := db.WithContext(ctx).Unscoped().Where("owner_user_id = ?", ownerID).First(&business).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load business: %w", err)
	}
	if business.IsDeleted() {
		return nil, ErrBusinessGone
	}
	return &business, nil
}

// ResolveAdmin runs the admin guard in order: identity, stored role,
// owned business, business still live. Nothing is written.
func ResolveAdmin(ctx context.Context, db *gorm.DB, identity *models.UserIdentity) (*models.User, *models.Business, error) {
	if identity == nil || identity.UserID == uuid.Nil {
		return nil, nil, ErrNoIdentity
	}

	user, err := StoredUser(ctx, db, identity.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.Role != models.RoleAdmin {
		return nil, nil, ErrNotAdmin
	}

	business, err := OwnedBusiness(ctx, db, user.ID)
	if err != nil {
		return nil, nil, err
	}

	return user, business, nil
}

// ResolveMember finds the business the caller belongs to, as its owner or
// through their most recent staff row.
func ResolveMember(ctx context.Context, db *gorm.DB, identity *models.UserIdentity) (*Membership, error) {
	if identity == nil || identity.UserID == uuid.Nil {
		return nil, ErrNoIdentity
	}

	user, err := StoredUser(ctx, db, identity.UserID)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RoleAdmin {
		business, err := OwnedBusiness(ctx, db, user.ID)
		if err != nil {
			return nil, err
		}
		return &Membership{User: *user, Business: *business}, nil
	}

	var staff models.Staff
	err = db.WithContext(ctx).Unscoped().
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		First(&staff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staff membership: %w", err)
	}

	var business models.Business
	err = db.WithContext(ctx).Unscoped().Where("id = ?", staff.BusinessID).First(&business).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load business: %w", err)
	}
	if business.IsDeleted() {
		return nil, ErrBusinessGone
	}
	if staff.IsDeleted() || user.IsDeleted() {
		return nil, ErrNotMember
	}

	return &Membership{User: *user, Business: business, Staff: &staff}, nil
}
