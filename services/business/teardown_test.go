package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/events"
	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/tenancy"
	"github.com/suite33/backoffice/shared/testutil"
	"github.com/suite33/backoffice/shared/utils"
)

var teardownTime = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

// tombstonedModels are every soft-deletable model under a tenant.
var tombstonedModels = []interface{}{
	&models.User{}, &models.Business{}, &models.Staff{}, &models.Department{},
	&models.Category{}, &models.Inventory{}, &models.Sale{}, &models.Expenditure{},
	&models.PayrollBatch{}, &models.PayrollBatchItem{},
}

func newTestTeardown(t *testing.T, db *gorm.DB, notifier events.Notifier) *TeardownService {
	t.Helper()
	logger, _ := test.NewNullLogger()
	svc := NewTeardownService(db, notifier, "business-events", NewTeardownMetrics(prometheus.NewRegistry()), logger)
	svc.now = func() time.Time { return teardownTime }
	return svc
}

func countTombstoned(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	for _, model := range tombstonedModels {
		var n int64
		if err := db.Unscoped().Model(model).Where("deleted_at IS NOT NULL").Count(&n).Error; err != nil {
			t.Fatal(err)
		}
		total += n
	}
	return total
}

func countInvites(t *testing.T, db *gorm.DB, tn *testutil.Tenant) int64 {
	t.Helper()
	var n int64
	if err := db.Unscoped().Model(&models.Invite{}).Where("business_id = ?", tn.Business.ID).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

// deletedAts returns the deleted_at of every row of model matching query, live or not.
func deletedAts(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) []gorm.DeletedAt {
	t.Helper()
	var out []gorm.DeletedAt
	if err := db.Unscoped().Model(model).Where(query, args...).Pluck("deleted_at", &out).Error; err != nil {
		t.Fatal(err)
	}
	return out
}

func assertAllDeletedAt(t *testing.T, label string, got []gorm.DeletedAt, wantRows int, want time.Time) {
	t.Helper()
	if len(got) != wantRows {
		t.Errorf("%s: expected %d rows, got %d", label, wantRows, len(got))
	}
	for i, d := range got {
		if !d.Valid {
			t.Errorf("%s[%d]: expected tombstone, row is live", label, i)
			continue
		}
		if !d.Time.Equal(want) {
			t.Errorf("%s[%d]: expected deleted_at %s, got %s", label, i, want, d.Time)
		}
	}
}

func TestTeardownService_HappyPath(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)
	other := testutil.SeedTenant(t, db, testutil.TenantOptions{Name: "Neighbour Ltd", StaffCount: 1, SaleCount: 2, ItemCount: 1})

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	notifier := events.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), "business-events",
		fmt.Sprintf("Business %q was deleted by Ada Admin <%s>", "Acme Trading", tn.Admin.Email)).Return(nil)

	svc := newTestTeardown(t, db, notifier)

	result, err := svc.DeleteBusiness(context.Background(), tn.Identity())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := teardownTime.Truncate(time.Microsecond)
	if !result.DeletedAt.Equal(want) || result.StaffCount != 2 || result.BusinessID != tn.Business.ID {
		t.Errorf("unexpected result %+v", result)
	}

	bid := tn.Business.ID
	assertAllDeletedAt(t, "business", deletedAts(t, db, &models.Business{}, "id = ?", bid), 1, want)
	assertAllDeletedAt(t, "admin", deletedAts(t, db, &models.User{}, "id = ?", tn.Admin.ID), 1, want)
	assertAllDeletedAt(t, "staff", deletedAts(t, db, &models.Staff{}, "business_id = ?", bid), 2, want)
	assertAllDeletedAt(t, "staff users", deletedAts(t, db, &models.User{}, "id IN ?", []interface{}{tn.StaffUsers[0].ID, tn.StaffUsers[1].ID}), 2, want)
	assertAllDeletedAt(t, "sales", deletedAts(t, db, &models.Sale{}, "business_id = ?", bid), 3, want)
	assertAllDeletedAt(t, "expenditures", deletedAts(t, db, &models.Expenditure{}, "business_id = ?", bid), 1, want)
	assertAllDeletedAt(t, "inventory", deletedAts(t, db, &models.Inventory{}, "business_id = ?", bid), 1, want)
	assertAllDeletedAt(t, "categories", deletedAts(t, db, &models.Category{}, "business_id = ?", bid), 1, want)
	assertAllDeletedAt(t, "departments", deletedAts(t, db, &models.Department{}, "business_id = ?", bid), 1, want)
	assertAllDeletedAt(t, "batches", deletedAts(t, db, &models.PayrollBatch{}, "business_id = ?", bid), 1, want)
	assertAllDeletedAt(t, "batch items", deletedAts(t, db, &models.PayrollBatchItem{}, "batch_id = ?", tn.Batch.ID), 2, want)

	if n := countInvites(t, db, tn); n != 0 {
		t.Errorf("expected invites to be hard deleted, %d remain", n)
	}

	// The neighbouring tenant is untouched.
	var live int64
	db.Model(&models.Sale{}).Where("business_id = ?", other.Business.ID).Count(&live)
	if live != 2 {
		t.Errorf("expected other tenant's sales to stay live, got %d", live)
	}
	if n := countInvites(t, db, other); n != 1 {
		t.Errorf("expected other tenant's invite to survive, got %d", n)
	}

	if got := promtest.ToFloat64(svc.metrics.outcomes.WithLabelValues("success")); got != 1 {
		t.Errorf("expected one successful teardown recorded, got %v", got)
	}
}

func TestTeardownService_DoubleTeardownIsGone(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	notifier := events.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	svc := newTestTeardown(t, db, notifier)

	if _, err := svc.DeleteBusiness(context.Background(), tn.Identity()); err != nil {
		t.Fatalf("first teardown: unexpected error: %v", err)
	}
	first := teardownTime.Truncate(time.Microsecond)

	svc.now = func() time.Time { return teardownTime.Add(time.Hour) }
	_, err := svc.DeleteBusiness(context.Background(), tn.Identity())
	if !errors.Is(err, utils.ErrGone) {
		t.Fatalf("expected Gone on second teardown, got %v", err)
	}

	assertAllDeletedAt(t, "business", deletedAts(t, db, &models.Business{}, "id = ?", tn.Business.ID), 1, first)
	assertAllDeletedAt(t, "sales", deletedAts(t, db, &models.Sale{}, "business_id = ?", tn.Business.ID), 3, first)
	assertAllDeletedAt(t, "staff", deletedAts(t, db, &models.Staff{}, "business_id = ?", tn.Business.ID), 2, first)
	assertAllDeletedAt(t, "admin", deletedAts(t, db, &models.User{}, "id = ?", tn.Admin.ID), 1, first)

	if got := promtest.ToFloat64(svc.metrics.outcomes.WithLabelValues("gone")); got != 1 {
		t.Errorf("expected one gone outcome, got %v", got)
	}
}

func TestTeardownService_GuardRejectionsWriteNothing(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	lonely := models.User{Email: "lonely@suite33.test", FullName: "No Business", Role: models.RoleAdmin}
	if err := db.Create(&lonely).Error; err != nil {
		t.Fatal(err)
	}
	lonelyIdentity := lonely.Identity()

	subAdmin := models.User{Email: "sub@suite33.test", FullName: "Sub Admin", Role: models.RoleSubAdmin}
	if err := db.Create(&subAdmin).Error; err != nil {
		t.Fatal(err)
	}
	subAdminIdentity := subAdmin.Identity()

	tests := []struct {
		name     string
		identity *models.UserIdentity
		wantKind error
		outcome  string
	}{
		{"no identity", nil, utils.ErrUnauthorized, "unauthorized"},
		{"staff caller", tn.StaffIdentity(0), utils.ErrForbidden, "forbidden"},
		{"sub admin caller", &subAdminIdentity, utils.ErrForbidden, "forbidden"},
		{"admin without business", &lonelyIdentity, utils.ErrNotFound, "not_found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			// no Notify expected
			svc := newTestTeardown(t, db, events.NewMockNotifier(ctrl))

			_, err := svc.DeleteBusiness(context.Background(), tc.identity)
			if !errors.Is(err, tc.wantKind) {
				t.Fatalf("expected %v, got %v", tc.wantKind, err)
			}

			if n := countTombstoned(t, db); n != 0 {
				t.Errorf("expected zero tombstones after rejection, got %d", n)
			}
			if n := countInvites(t, db, tn); n != 1 {
				t.Errorf("expected invite to survive rejection, got %d", n)
			}
			if got := promtest.ToFloat64(svc.metrics.outcomes.WithLabelValues(tc.outcome)); got != 1 {
				t.Errorf("expected outcome %s recorded once, got %v", tc.outcome, got)
			}
		})
	}
}

func TestTeardownService_WriteOrder(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	var writes []string
	record := func(kind string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			if tx.Error == nil {
				writes = append(writes, kind+":"+tx.Statement.Table)
			}
		}
	}
	if err := db.Callback().Update().After("gorm:update").Register("test:record_update", record("update")); err != nil {
		t.Fatal(err)
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("test:record_delete", record("delete")); err != nil {
		t.Fatal(err)
	}

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	notifier := events.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	svc := newTestTeardown(t, db, notifier)
	if _, err := svc.DeleteBusiness(context.Background(), tn.Identity()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"update:sales",
		"update:expenditures",
		"update:inventories",
		"update:categories",
		"update:departments",
		"delete:invites",
		"update:payroll_batch_items",
		"update:payroll_batches",
		"update:staff",
		"update:users",
		"update:businesses",
		"update:users",
	}
	if !reflect.DeepEqual(writes, want) {
		t.Errorf("unexpected write order:\n got %v\nwant %v", writes, want)
	}
}

func TestTeardownService_NoLiveStaffUnderDeadBusiness(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	// Observe the tenant at the moment the business row is about to be written.
	var liveStaffAtBusinessWrite int64 = -1
	err := db.Callback().Update().Before("gorm:update").Register("test:inspect", func(tx *gorm.DB) {
		if tx.Statement.Table != "businesses" {
			return
		}
		tx.Session(&gorm.Session{NewDB: true}).Model(&models.Staff{}).
			Where("business_id = ?", tn.Business.ID).Count(&liveStaffAtBusinessWrite)
	})
	if err != nil {
		t.Fatal(err)
	}

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	notifier := events.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	svc := newTestTeardown(t, db, notifier)
	if _, err := svc.DeleteBusiness(context.Background(), tn.Identity()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if liveStaffAtBusinessWrite != 0 {
		t.Errorf("expected no live staff when the business is tombstoned, got %d", liveStaffAtBusinessWrite)
	}
}

func TestTeardownService_FailureRollsBack(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	err := db.Callback().Update().Before("gorm:update").Register("test:fail_business", func(tx *gorm.DB) {
		if tx.Statement.Table == "businesses" {
			tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := newTestTeardown(t, db, events.NewMockNotifier(ctrl))

	_, err = svc.DeleteBusiness(context.Background(), tn.Identity())
	if err == nil {
		t.Fatal("expected teardown to fail")
	}
	if utils.StatusFor(err) != 500 {
		t.Errorf("expected an internal error, got %v", err)
	}

	if n := countTombstoned(t, db); n != 0 {
		t.Errorf("expected rollback to leave every row live, %d tombstoned", n)
	}
	if n := countInvites(t, db, tn); n != 1 {
		t.Errorf("expected rollback to restore the invite, got %d", n)
	}
	if got := promtest.ToFloat64(svc.metrics.outcomes.WithLabelValues("error")); got != 1 {
		t.Errorf("expected one error outcome, got %v", got)
	}
}

func TestTeardownService_NotificationFailureDoesNotFail(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	notifier := events.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(events.ErrQueueFull)

	svc := newTestTeardown(t, db, notifier)
	if _, err := svc.DeleteBusiness(context.Background(), tn.Identity()); err != nil {
		t.Fatalf("notification failure must not fail teardown: %v", err)
	}

	var business models.Business
	if err := db.Unscoped().First(&business, "id = ?", tn.Business.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !business.IsDeleted() {
		t.Error("expected business to be tombstoned")
	}
}

func TestTeardownService_KeepsEarlierTombstones(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	earlier := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	if err := db.Model(&tn.Sales[0]).UpdateColumn("deleted_at", earlier).Error; err != nil {
		t.Fatal(err)
	}

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	notifier := events.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	svc := newTestTeardown(t, db, notifier)
	if _, err := svc.DeleteBusiness(context.Background(), tn.Identity()); err != nil {
		t.Fatal(err)
	}

	assertAllDeletedAt(t, "earlier sale", deletedAts(t, db, &models.Sale{}, "id = ?", tn.Sales[0].ID), 1, earlier)
	assertAllDeletedAt(t, "other sales", deletedAts(t, db, &models.Sale{}, "id IN ?", []interface{}{tn.Sales[1].ID, tn.Sales[2].ID}), 2, teardownTime.Truncate(time.Microsecond))
}

func TestTombstoneTenant_ConcurrentTeardownLoses(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	// Another request committed its teardown after this one passed the guard.
	winner := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := db.Model(&tn.Business).UpdateColumn("deleted_at", winner).Error; err != nil {
		t.Fatal(err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := tombstoneTenant(tx, tn.Business.ID, tn.Admin.ID, teardownTime)
		return err
	})
	if !errors.Is(err, tenancy.ErrBusinessGone) {
		t.Fatalf("expected ErrBusinessGone, got %v", err)
	}

	// Everything but the business itself was rolled back.
	var live int64
	db.Model(&models.Sale{}).Where("business_id = ?", tn.Business.ID).Count(&live)
	if live != 3 {
		t.Errorf("expected sales to be rolled back, got %d live", live)
	}
	assertAllDeletedAt(t, "business", deletedAts(t, db, &models.Business{}, "id = ?", tn.Business.ID), 1, winner)
}
