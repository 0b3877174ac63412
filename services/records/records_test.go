package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/events"
	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	provider *middleware.MockIdentityProvider
	notifier *events.MockNotifier
}

func newTestServer(t *testing.T, db *gorm.DB) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	logger, _ := test.NewNullLogger()
	registry := prometheus.NewRegistry()

	provider := middleware.NewMockIdentityProvider(ctrl)
	notifier := events.NewMockNotifier(ctrl)

	router := newRouter(db,
		NewStockAlerter(notifier, "inventory-alerts", registry, logger),
		middleware.NewAuthMiddleware(provider, logger),
		middleware.NewHTTPMetrics("records", registry), registry)

	return &testServer{router: router, provider: provider, notifier: notifier}
}

func (s *testServer) as(credential string, identity *models.UserIdentity) {
	s.provider.EXPECT().GetCurrentUser(gomock.Any(), credential).Return(identity, nil).AnyTimes()
}

func (s *testServer) do(method, path, credential string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func int64p(v int64) *int64 { return &v }

func TestRecordSale(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)
	other := testutil.SeedTenant(t, db, testutil.TenantOptions{Name: "Neighbour Ltd"})
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	missing := uuid.New()

	tests := []struct {
		name         string
		req          CreateSaleRequest
		wantErr      error
		wantAmount   int64
		wantQuantity int
	}{
		{"priced from inventory", CreateSaleRequest{InventoryID: &tn.Inventory.ID, Quantity: 2}, nil, 900, 18},
		{"explicit amount wins", CreateSaleRequest{InventoryID: &tn.Inventory.ID, AmountCents: int64p(500)}, nil, 500, 17},
		{"insufficient stock", CreateSaleRequest{InventoryID: &tn.Inventory.ID, Quantity: 18}, ErrInsufficientStock, 0, 17},
		{"exactly the remaining stock", CreateSaleRequest{InventoryID: &tn.Inventory.ID, Quantity: 17}, nil, 17 * 450, 0},
		{"unknown item", CreateSaleRequest{InventoryID: &missing}, ErrInventoryNotFound, 0, 0},
		{"other tenant's item", CreateSaleRequest{InventoryID: &other.Inventory.ID}, ErrInventoryNotFound, 0, 0},
		{"no item and no amount", CreateSaleRequest{Quantity: 1}, ErrSaleAmount, 0, 0},
		{"service sale", CreateSaleRequest{AmountCents: int64p(2500)}, nil, 2500, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var before int64
			db.Model(&models.Sale{}).Where("business_id = ?", tn.Business.ID).Count(&before)

			sale, item, err := recordSale(context.Background(), db, tn.Business.ID, tn.Admin.ID, tc.req, now)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}

			var after int64
			db.Model(&models.Sale{}).Where("business_id = ?", tn.Business.ID).Count(&after)

			if tc.wantErr != nil {
				if after != before {
					t.Errorf("expected no sale to be stored on error")
				}
				return
			}

			if after != before+1 {
				t.Errorf("expected one new sale, got %d", after-before)
			}
			if sale.AmountCents != tc.wantAmount {
				t.Errorf("expected amount %d, got %d", tc.wantAmount, sale.AmountCents)
			}
			if !sale.SoldAt.Equal(now) {
				t.Errorf("expected sold_at %s, got %s", now, sale.SoldAt)
			}
			if tc.req.InventoryID != nil && item.Quantity != tc.wantQuantity {
				t.Errorf("expected %d left in stock, got %d", tc.wantQuantity, item.Quantity)
			}
		})
	}

	var stock models.Inventory
	db.First(&stock, "id = ?", other.Inventory.ID)
	if stock.Quantity != 20 {
		t.Errorf("other tenant's stock changed to %d", stock.Quantity)
	}
}

func TestCreateSaleHandler_LowStockAlert(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	s := newTestServer(t, db)
	s.as("staff-token", tn.StaffIdentity(0))

	// 20 -> 17 stays above the threshold of 5
	w := s.do(http.MethodPost, "/records/sales", "staff-token", CreateSaleRequest{InventoryID: &tn.Inventory.ID, Quantity: 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	s.notifier.EXPECT().
		Notify(gomock.Any(), "inventory-alerts", `Low stock: "Cold brew" (SKU CB-1) has 5 left, threshold 5`).
		Return(events.ErrQueueFull)

	w = s.do(http.MethodPost, "/records/sales", "staff-token", CreateSaleRequest{InventoryID: &tn.Inventory.ID, Quantity: 12})
	if w.Code != http.StatusCreated {
		t.Fatalf("alert failure must not fail the sale, got %d", w.Code)
	}

	w = s.do(http.MethodPost, "/records/sales", "staff-token", CreateSaleRequest{InventoryID: &tn.Inventory.ID, Quantity: 6})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for insufficient stock, got %d", w.Code)
	}

	w = s.do(http.MethodGet, "/records/inventory/low-stock", "staff-token", nil)
	var page struct {
		Data struct {
			Items []models.Inventory `json:"items"`
			Total int64              `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Data.Total != 1 || page.Data.Items[0].ID != tn.Inventory.ID {
		t.Errorf("expected the item in the low-stock list, got %s", w.Body.String())
	}

	w = s.do(http.MethodGet, "/records/sales?limit=1", "staff-token", nil)
	var sales struct {
		Data struct {
			Items []models.Sale `json:"items"`
			Total int64         `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sales); err != nil {
		t.Fatal(err)
	}
	if sales.Data.Total != 5 || len(sales.Data.Items) != 1 {
		t.Errorf("expected 5 sales paged by 1, got %s", w.Body.String())
	}
}

func TestRecordsRoles(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	s := newTestServer(t, db)
	s.as("admin-token", tn.Identity())
	s.as("staff-token", tn.StaffIdentity(0))

	tests := []struct {
		name       string
		method     string
		path       string
		credential string
		body       interface{}
		wantStatus int
	}{
		{"staff cannot record expenditure", http.MethodPost, "/records/expenditures", "staff-token", CreateExpenditureRequest{Description: "Rent", AmountCents: 100000}, http.StatusForbidden},
		{"admin records expenditure", http.MethodPost, "/records/expenditures", "admin-token", CreateExpenditureRequest{Description: "Rent", AmountCents: 100000}, http.StatusCreated},
		{"expenditure needs an amount", http.MethodPost, "/records/expenditures", "admin-token", CreateExpenditureRequest{Description: "Rent"}, http.StatusBadRequest},
		{"staff cannot add inventory", http.MethodPost, "/records/inventory", "staff-token", CreateInventoryRequest{Name: "Tea"}, http.StatusForbidden},
		{"admin adds inventory", http.MethodPost, "/records/inventory", "admin-token", CreateInventoryRequest{Name: "Tea", CategoryID: &tn.Category.ID, Quantity: 4}, http.StatusCreated},
		{"inventory with unknown category", http.MethodPost, "/records/inventory", "admin-token", CreateInventoryRequest{Name: "Tea", CategoryID: new(uuid.UUID)}, http.StatusBadRequest},
		{"staff lists categories", http.MethodGet, "/records/categories", "staff-token", nil, http.StatusOK},
		{"admin adds department", http.MethodPost, "/records/departments", "admin-token", NamedRequest{Name: "Kitchen"}, http.StatusCreated},
		{"staff cannot view payroll", http.MethodGet, "/records/payroll/batches", "staff-token", nil, http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(tc.method, tc.path, tc.credential, tc.body)
			if w.Code != tc.wantStatus {
				t.Errorf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestRecordsOfDeletedBusinessAreGone(t *testing.T) {
	db := testutil.NewDB(t)
	tn := testutil.SeedTenant(t, db, testutil.DefaultTenant)

	if err := db.Delete(&tn.Business).Error; err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, db)
	s.as("staff-token", tn.StaffIdentity(0))

	w := s.do(http.MethodGet, "/records/sales", "staff-token", nil)
	if w.Code != http.StatusGone {
		t.Errorf("expected 410, got %d", w.Code)
	}
}
