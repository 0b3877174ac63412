package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

var (
	ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", utils.ErrInvalidInput)
	ErrInventoryNotFound = fmt.Errorf("inventory item not found: %w", utils.ErrNotFound)
	ErrSaleAmount        = fmt.Errorf("amount_cents is required for a sale without an inventory item: %w", utils.ErrInvalidInput)
)

// CreateSaleRequest represents the record sale request. AmountCents
// defaults to quantity times the item's unit price.
type CreateSaleRequest struct {
	InventoryID *uuid.UUID `json:"inventory_id"`
	Quantity    int        `json:"quantity" binding:"omitempty,min=1"`
	AmountCents *int64     `json:"amount_cents" binding:"omitempty,min=0"`
	SoldAt      *time.Time `json:"sold_at"`
}

// CreateExpenditureRequest represents the record expenditure request
type CreateExpenditureRequest struct {
	Description string     `json:"description" binding:"required,max=255"`
	AmountCents int64      `json:"amount_cents" binding:"required,min=1"`
	SpentAt     *time.Time `json:"spent_at"`
}

// recordSale stores a sale and takes its quantity out of stock in one
// transaction. The returned item is nil when the sale has none.
func recordSale(ctx context.Context, db *gorm.DB, businessID, recordedBy uuid.UUID, req CreateSaleRequest, now time.Time) (*models.Sale, *models.Inventory, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.InventoryID == nil && req.AmountCents == nil {
		return nil, nil, ErrSaleAmount
	}

	sale := models.Sale{
		BusinessID:  businessID,
		InventoryID: req.InventoryID,
		Quantity:    req.Quantity,
		SoldAt:      now,
		RecordedBy:  recordedBy,
	}
	if req.SoldAt != nil {
		sale.SoldAt = req.SoldAt.UTC()
	}
	if req.AmountCents != nil {
		sale.AmountCents = *req.AmountCents
	}

	var item *models.Inventory
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.InventoryID != nil {
			var err error
			if item, err = takeStock(tx, businessID, *req.InventoryID, req.Quantity); err != nil {
				return err
			}
			if req.AmountCents == nil {
				sale.AmountCents = int64(req.Quantity) * item.UnitPriceCents
			}
		}
		return tx.Create(&sale).Error
	})
	if err != nil {
		return nil, nil, err
	}

	return &sale, item, nil
}

// takeStock decrements the item only if enough is left, then reloads it.
func takeStock(tx *gorm.DB, businessID, inventoryID uuid.UUID, quantity int) (*models.Inventory, error) {
	res := tx.Model(&models.Inventory{}).
		Where("id = ? AND business_id = ? AND quantity >= ?", inventoryID, businessID, quantity).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", quantity))
	if res.Error != nil {
		return nil, res.Error
	}

	var item models.Inventory
	err := tx.Where("id = ? AND business_id = ?", inventoryID, businessID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInventoryNotFound
	}
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientStock
	}
	return &item, nil
}

// handleCreateSale records a sale by any member of the business
func handleCreateSale(db *gorm.DB, alerts *StockAlerter) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := member(c, db)
		if !ok {
			return
		}

		var req CreateSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		sale, item, err := recordSale(c.Request.Context(), db, m.Business.ID, m.User.ID, req, time.Now().UTC())
		if err != nil {
			utils.RespondError(c, err, "Failed to record sale")
			return
		}

		alerts.Check(c.Request.Context(), item)

		utils.CreatedResponse(c, "Sale recorded successfully", sale)
	}
}

// handleListSales lists the sales of the business, newest first
func handleListSales(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := member(c, db)
		if !ok {
			return
		}

		query := db.WithContext(c.Request.Context()).Model(&models.Sale{}).Where("business_id = ?", m.Business.ID)
		if raw := c.Query("inventory_id"); raw != "" {
			inventoryID, err := uuid.Parse(raw)
			if err != nil {
				utils.BadRequestResponse(c, "Invalid inventory ID")
				return
			}
			query = query.Where("inventory_id = ?", inventoryID)
		}

		var sales []models.Sale
		page, err := listPage(c, query, "sold_at DESC", &sales)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch sales")
			return
		}

		utils.OKResponse(c, "Sales retrieved successfully", page)
	}
}

// handleCreateExpenditure records money spent (admin and sub-admin)
func handleCreateExpenditure(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var req CreateExpenditureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		expenditure := models.Expenditure{
			BusinessID:  m.Business.ID,
			Description: strings.TrimSpace(req.Description),
			AmountCents: req.AmountCents,
			SpentAt:     time.Now().UTC(),
			RecordedBy:  m.User.ID,
		}
		if req.SpentAt != nil {
			expenditure.SpentAt = req.SpentAt.UTC()
		}

		if err := db.WithContext(c.Request.Context()).Create(&expenditure).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to record expenditure")
			return
		}

		utils.CreatedResponse(c, "Expenditure recorded successfully", expenditure)
	}
}

// handleListExpenditures lists the expenditures of the business, newest first
func handleListExpenditures(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var expenditures []models.Expenditure
		query := db.WithContext(c.Request.Context()).Model(&models.Expenditure{}).Where("business_id = ?", m.Business.ID)
		page, err := listPage(c, query, "spent_at DESC", &expenditures)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch expenditures")
			return
		}

		utils.OKResponse(c, "Expenditures retrieved successfully", page)
	}
}
