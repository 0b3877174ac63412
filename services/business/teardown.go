package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/events"
	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/tenancy"
)

// tenantCollections are tombstoned first. None of them references another,
// so their relative order does not matter.
var tenantCollections = []struct {
	name  string
	model interface{}
}{
	{"sales", &models.Sale{}},
	{"expenditures", &models.Expenditure{}},
	{"inventories", &models.Inventory{}},
	{"categories", &models.Category{}},
	{"departments", &models.Department{}},
}

// TeardownResult describes a completed business teardown
type TeardownResult struct {
	BusinessID   uuid.UUID `json:"business_id"`
	BusinessName string    `json:"business_name"`
	DeletedAt    time.Time `json:"deleted_at"`
	StaffCount   int64     `json:"staff_count"`
}

// TeardownService soft-deletes a whole tenant on behalf of its admin
type TeardownService struct {
	db       *gorm.DB
	notifier events.Notifier
	channel  string
	metrics  *TeardownMetrics
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewTeardownService(db *gorm.DB, notifier events.Notifier, channel string, metrics *TeardownMetrics, logger logrus.FieldLogger) *TeardownService {
	return &TeardownService{
		db:       db,
		notifier: notifier,
		channel:  channel,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// DeleteBusiness tombstones the caller's business and everything under it.
//
// The caller must be the stored ADMIN owner of a live business; guard
// failures return before anything is written. All writes share one
// timestamp and one transaction, so the tenant is either fully tombstoned
// or untouched. The notification is sent after commit and its failure is
// only logged.
func (s *TeardownService) DeleteBusiness(ctx context.Context, identity *models.UserIdentity) (*TeardownResult, error) {
	start := time.Now()

	admin, business, err := tenancy.ResolveAdmin(ctx, s.db, identity)
	if err != nil {
		s.metrics.Observe(err, time.Since(start))
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	log := s.logger.WithFields(logrus.Fields{
		"business_id": business.ID,
		"user_id":     admin.ID,
	})
	log.Info("tearing down business")

	var staffCount int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var terr error
		staffCount, terr = tombstoneTenant(tx, business.ID, admin.ID, now)
		return terr
	})
	s.metrics.Observe(err, time.Since(start))

	if errors.Is(err, tenancy.ErrBusinessGone) {
		log.Warn("business was torn down concurrently, rolled back")
		return nil, err
	}
	if err != nil {
		log.WithError(err).Error("business teardown failed, rolled back")
		return nil, fmt.Errorf("teardown of business %s: %w", business.ID, err)
	}

	log.WithField("staff_count", staffCount).Info("business torn down")
	s.notify(ctx, admin, business)

	return &TeardownResult{
		BusinessID:   business.ID,
		BusinessName: business.Name,
		DeletedAt:    now,
		StaffCount:   staffCount,
	}, nil
}

func (s *TeardownService) notify(ctx context.Context, admin *models.User, business *models.Business) {
	message := fmt.Sprintf("Business %q was deleted by %s <%s>", business.Name, admin.FullName, admin.Email)

	if err := s.notifier.Notify(context.WithoutCancel(ctx), s.channel, message); err != nil {
		s.logger.WithError(err).WithField("business_id", business.ID).Warn("failed to send teardown notification")
	}
}

// tombstoneTenant applies now to every live row of the tenant, children
// before parents, and returns the number of staff rows tombstoned. It must
// run inside a transaction.
func tombstoneTenant(tx *gorm.DB, businessID, adminID uuid.UUID, now time.Time) (int64, error) {
	for _, c := range tenantCollections {
		if _, err := tombstone(tx, c.model, now, "business_id = ?", businessID); err != nil {
			return 0, fmt.Errorf("tombstone %s: %w", c.name, err)
		}
	}

	if err := tx.Where("business_id = ?", businessID).Delete(&models.Invite{}).Error; err != nil {
		return 0, fmt.Errorf("delete invites: %w", err)
	}

	batches := tx.Unscoped().Model(&models.PayrollBatch{}).Select("id").Where("business_id = ?", businessID)
	if _, err := tombstone(tx, &models.PayrollBatchItem{}, now, "batch_id IN (?)", batches); err != nil {
		return 0, fmt.Errorf("tombstone payroll batch items: %w", err)
	}
	if _, err := tombstone(tx, &models.PayrollBatch{}, now, "business_id = ?", businessID); err != nil {
		return 0, fmt.Errorf("tombstone payroll batches: %w", err)
	}

	// Previously removed staff are included so their users cannot outlive the tenant.
	var userIDs []uuid.UUID
	if err := tx.Unscoped().Model(&models.Staff{}).Where("business_id = ?", businessID).Pluck("user_id", &userIDs).Error; err != nil {
		return 0, fmt.Errorf("list staff: %w", err)
	}

	staffCount, err := tombstone(tx, &models.Staff{}, now, "business_id = ?", businessID)
	if err != nil {
		return 0, fmt.Errorf("tombstone staff: %w", err)
	}
	if len(userIDs) > 0 {
		if _, err := tombstone(tx, &models.User{}, now, "id IN ?", userIDs); err != nil {
			return 0, fmt.Errorf("tombstone staff users: %w", err)
		}
	}

	affected, err := tombstone(tx, &models.Business{}, now, "id = ?", businessID)
	if err != nil {
		return 0, fmt.Errorf("tombstone business: %w", err)
	}
	if affected == 0 {
		return 0, tenancy.ErrBusinessGone
	}

	if _, err := tombstone(tx, &models.User{}, now, "id = ?", adminID); err != nil {
		return 0, fmt.Errorf("tombstone admin: %w", err)
	}

	return staffCount, nil
}

// tombstone sets deleted_at on the live rows of model matching query.
// gorm's soft-delete scope adds "deleted_at IS NULL", so rows tombstoned
// earlier keep their original timestamp.
func tombstone(tx *gorm.DB, model interface{}, now time.Time, query interface{}, args ...interface{}) (int64, error) {
	res := tx.Model(model).Where(query, args...).UpdateColumns(map[string]interface{}{
		"deleted_at": now,
		"updated_at": now,
	})
	return res.RowsAffected, res.Error
}
