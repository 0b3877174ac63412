package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
)

// Tenant is a seeded business with one of everything the teardown touches.
type Tenant struct {
	Admin       models.User
	Business    models.Business
	Department  models.Department
	Category    models.Category
	Inventory   models.Inventory
	StaffUsers  []models.User
	Staff       []models.Staff
	Sales       []models.Sale
	Expenditure models.Expenditure
	Batch       models.PayrollBatch
	Items       []models.PayrollBatchItem
	Invite      models.Invite
}

// TenantOptions sizes the seeded tenant.
type TenantOptions struct {
	Name       string
	StaffCount int
	SaleCount  int
	ItemCount  int
}

// DefaultTenant matches the canonical teardown scenario: one admin, two
// staff, three sales, one batch with two items and one pending invite.
var DefaultTenant = TenantOptions{Name: "Acme Trading", StaffCount: 2, SaleCount: 3, ItemCount: 2}

// SeedTenant creates a tenant in db and fails the test on any error.
func SeedTenant(t testing.TB, db *gorm.DB, opts TenantOptions) *Tenant {
	t.Helper()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("failed to seed tenant: %v", err)
		}
	}

	short := uuid.NewString()[:8]
	tn := &Tenant{}

	tn.Admin = models.User{Email: "admin-" + short + "@suite33.test", FullName: "Ada Admin", Role: models.RoleAdmin}
	must(db.Create(&tn.Admin).Error)

	tn.Business = models.Business{Name: opts.Name, OwnerUserID: tn.Admin.ID}
	must(db.Create(&tn.Business).Error)

	bid := tn.Business.ID

	tn.Department = models.Department{BusinessID: bid, Name: "Front of house"}
	must(db.Create(&tn.Department).Error)

	tn.Category = models.Category{BusinessID: bid, Name: "Beverages"}
	must(db.Create(&tn.Category).Error)

	tn.Inventory = models.Inventory{BusinessID: bid, CategoryID: &tn.Category.ID, Name: "Cold brew", SKU: "CB-1", Quantity: 20, LowStockThreshold: 5, UnitPriceCents: 450}
	must(db.Create(&tn.Inventory).Error)

	for i := 0; i < opts.StaffCount; i++ {
		user := models.User{
			Email:    "staff-" + uuid.NewString()[:8] + "@suite33.test",
			FullName: "Staff Member",
			Role:     models.RoleStaff,
		}
		must(db.Create(&user).Error)
		tn.StaffUsers = append(tn.StaffUsers, user)

		staff := models.Staff{UserID: user.ID, BusinessID: bid, DepartmentID: &tn.Department.ID, Position: "Barista"}
		must(db.Create(&staff).Error)
		tn.Staff = append(tn.Staff, staff)
	}

	for i := 0; i < opts.SaleCount; i++ {
		sale := models.Sale{BusinessID: bid, Quantity: 1, AmountCents: int64(450 * (i + 1)), SoldAt: time.Now().UTC(), RecordedBy: tn.Admin.ID}
		must(db.Create(&sale).Error)
		tn.Sales = append(tn.Sales, sale)
	}

	tn.Expenditure = models.Expenditure{BusinessID: bid, Description: "Milk", AmountCents: 1200, SpentAt: time.Now().UTC(), RecordedBy: tn.Admin.ID}
	must(db.Create(&tn.Expenditure).Error)

	tn.Batch = models.PayrollBatch{BusinessID: bid, Period: "2026-03"}
	must(db.Create(&tn.Batch).Error)

	for i := 0; i < opts.ItemCount; i++ {
		staffID := uuid.New()
		if len(tn.Staff) > 0 {
			staffID = tn.Staff[i%len(tn.Staff)].ID
		}
		item := models.PayrollBatchItem{BatchID: tn.Batch.ID, StaffID: staffID, AmountCents: 250000}
		must(db.Create(&item).Error)
		tn.Items = append(tn.Items, item)
	}

	tn.Invite = models.Invite{
		BusinessID: bid,
		Email:      "pending-" + short + "@suite33.test",
		Role:       models.RoleStaff,
		TokenHash:  uuid.NewString(),
		InvitedBy:  tn.Admin.ID,
		ExpiresAt:  time.Now().Add(7 * 24 * time.Hour),
	}
	must(db.Create(&tn.Invite).Error)

	return tn
}

// Identity returns the session identity of the tenant's admin.
func (tn *Tenant) Identity() *models.UserIdentity {
	identity := tn.Admin.Identity()
	return &identity
}

// StaffIdentity returns the session identity of the i-th staff member.
func (tn *Tenant) StaffIdentity(i int) *models.UserIdentity {
	identity := tn.StaffUsers[i].Identity()
	return &identity
}
