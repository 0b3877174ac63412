package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

var (
	ErrBatchNotFound   = fmt.Errorf("payroll batch not found: %w", utils.ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("payroll item not found: %w", utils.ErrNotFound)
	ErrBatchLocked     = fmt.Errorf("payroll batch is locked: %w", utils.ErrConflict)
	ErrDuplicatePeriod = fmt.Errorf("a payroll batch already exists for this period: %w", utils.ErrConflict)
	ErrInvalidPeriod   = fmt.Errorf("period must be formatted YYYY-MM: %w", utils.ErrInvalidInput)
	ErrUnknownStaff    = fmt.Errorf("payroll item references a staff member outside this business: %w", utils.ErrInvalidInput)
)

// PayrollItemRequest is one line of a payroll batch
type PayrollItemRequest struct {
	StaffID     uuid.UUID `json:"staff_id" binding:"required"`
	AmountCents int64     `json:"amount_cents" binding:"required,min=1"`
}

// CreatePayrollBatchRequest represents the create payroll batch request
type CreatePayrollBatchRequest struct {
	Period string               `json:"period" binding:"required"`
	Items  []PayrollItemRequest `json:"items" binding:"required,min=1,dive"`
}

// createBatch stores a batch and its items. Every item must pay a live
// staff member of businessID, and a period has at most one live batch.
func createBatch(ctx context.Context, db *gorm.DB, businessID uuid.UUID, req CreatePayrollBatchRequest) (*models.PayrollBatch, error) {
	if _, err := time.Parse("2006-01", req.Period); err != nil {
		return nil, ErrInvalidPeriod
	}

	staffIDs := make([]uuid.UUID, 0, len(req.Items))
	seen := make(map[uuid.UUID]bool, len(req.Items))
	for _, item := range req.Items {
		if !seen[item.StaffID] {
			seen[item.StaffID] = true
			staffIDs = append(staffIDs, item.StaffID)
		}
	}

	batch := models.PayrollBatch{BusinessID: businessID, Period: req.Period}
	for _, item := range req.Items {
		batch.Items = append(batch.Items, models.PayrollBatchItem{StaffID: item.StaffID, AmountCents: item.AmountCents})
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var known int64
		if err := tx.Model(&models.Staff{}).Where("business_id = ? AND id IN ?", businessID, staffIDs).Count(&known).Error; err != nil {
			return err
		}
		if known != int64(len(staffIDs)) {
			return ErrUnknownStaff
		}

		var existing int64
		if err := tx.Model(&models.PayrollBatch{}).Where("business_id = ? AND period = ?", businessID, req.Period).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicatePeriod
		}

		// items are created through the association
		return tx.Create(&batch).Error
	})
	if err != nil {
		return nil, err
	}

	return &batch, nil
}

// lockBatch freezes a batch. Locking twice is a conflict.
func lockBatch(ctx context.Context, db *gorm.DB, businessID, batchID uuid.UUID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.PayrollBatch
		err := tx.Where("id = ? AND business_id = ?", batchID, businessID).First(&batch).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBatchNotFound
		}
		if err != nil {
			return err
		}

		res := tx.Model(&batch).Where("locked = ?", false).Update("locked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBatchLocked
		}
		return nil
	})
}

// markItemPaid flags one item of an unlocked batch as paid.
func markItemPaid(ctx context.Context, db *gorm.DB, businessID, batchID, itemID uuid.UUID) (*models.PayrollBatchItem, error) {
	var item models.PayrollBatchItem
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.PayrollBatch
		err := tx.Where("id = ? AND business_id = ?", batchID, businessID).First(&batch).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		if batch.Locked {
			return ErrBatchLocked
		}

		err = tx.Where("id = ? AND batch_id = ?", itemID, batchID).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		item.Paid = true
		return tx.Model(&item).Update("paid", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// handleCreatePayrollBatch creates a batch with its items (admin and sub-admin)
func handleCreatePayrollBatch(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var req CreatePayrollBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		batch, err := createBatch(c.Request.Context(), db, m.Business.ID, req)
		if err != nil {
			utils.RespondError(c, err, "Failed to create payroll batch")
			return
		}

		utils.CreatedResponse(c, "Payroll batch created successfully", gin.H{
			"batch": batch,
			"total": batch.Total(),
		})
	}
}

// handleListPayrollBatches lists batches with their items, latest period first
func handleListPayrollBatches(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var batches []models.PayrollBatch
		query := db.WithContext(c.Request.Context()).Model(&models.PayrollBatch{}).Where("business_id = ?", m.Business.ID)
		page, err := listPage(c, query, "period DESC", &batches, "Items")
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch payroll batches")
			return
		}

		utils.OKResponse(c, "Payroll batches retrieved successfully", page)
	}
}

// handleLockPayrollBatch locks a batch
func handleLockPayrollBatch(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid batch ID")
			return
		}

		business, ok := admin(c, db)
		if !ok {
			return
		}

		if err := lockBatch(c.Request.Context(), db, business.ID, batchID); err != nil {
			utils.RespondError(c, err, "Failed to lock payroll batch")
			return
		}

		utils.OKResponse(c, "Payroll batch locked", nil)
	}
}

// handleMarkItemPaid marks a payroll item as paid
func handleMarkItemPaid(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid batch ID")
			return
		}
		itemID, err := uuid.Parse(c.Param("itemID"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid item ID")
			return
		}

		m, ok := manager(c, db)
		if !ok {
			return
		}

		item, err := markItemPaid(c.Request.Context(), db, m.Business.ID, batchID, itemID)
		if err != nil {
			utils.RespondError(c, err, "Failed to update payroll item")
			return
		}

		utils.OKResponse(c, "Payroll item marked as paid", item)
	}
}
