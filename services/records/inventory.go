package main

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

// CreateInventoryRequest represents the create inventory item request
type CreateInventoryRequest struct {
	Name              string     `json:"name" binding:"required,max=255"`
	SKU               string     `json:"sku" binding:"max=64"`
	CategoryID        *uuid.UUID `json:"category_id"`
	Quantity          int        `json:"quantity" binding:"min=0"`
	LowStockThreshold int        `json:"low_stock_threshold" binding:"min=0"`
	UnitPriceCents    int64      `json:"unit_price_cents" binding:"min=0"`
}

// NamedRequest represents the create category and create department requests
type NamedRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// handleCreateInventory adds a stock line (admin and sub-admin)
func handleCreateInventory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var req CreateInventoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		if req.CategoryID != nil {
			var category models.Category
			err := db.WithContext(ctx).Where("id = ? AND business_id = ?", *req.CategoryID, m.Business.ID).First(&category).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				utils.BadRequestResponse(c, "Unknown category")
				return
			}
			if err != nil {
				utils.InternalServerErrorResponse(c, "Failed to fetch category")
				return
			}
		}

		item := models.Inventory{
			BusinessID:        m.Business.ID,
			CategoryID:        req.CategoryID,
			Name:              strings.TrimSpace(req.Name),
			SKU:               strings.TrimSpace(req.SKU),
			Quantity:          req.Quantity,
			LowStockThreshold: req.LowStockThreshold,
			UnitPriceCents:    req.UnitPriceCents,
		}
		if err := db.WithContext(ctx).Create(&item).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to create inventory item")
			return
		}

		utils.CreatedResponse(c, "Inventory item created successfully", item)
	}
}

// handleListInventory lists stock lines, optionally only the low ones
func handleListInventory(db *gorm.DB, lowOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := member(c, db)
		if !ok {
			return
		}

		query := db.WithContext(c.Request.Context()).Model(&models.Inventory{}).Where("business_id = ?", m.Business.ID)
		if lowOnly {
			query = query.Where("quantity <= low_stock_threshold")
		}

		var items []models.Inventory
		page, err := listPage(c, query, "name", &items)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch inventory")
			return
		}

		utils.OKResponse(c, "Inventory retrieved successfully", page)
	}
}

func handleCreateCategory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var req NamedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		category := models.Category{BusinessID: m.Business.ID, Name: strings.TrimSpace(req.Name)}
		if err := db.WithContext(c.Request.Context()).Create(&category).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to create category")
			return
		}

		utils.CreatedResponse(c, "Category created successfully", category)
	}
}

func handleListCategories(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := member(c, db)
		if !ok {
			return
		}

		var categories []models.Category
		query := db.WithContext(c.Request.Context()).Model(&models.Category{}).Where("business_id = ?", m.Business.ID)
		page, err := listPage(c, query, "name", &categories)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch categories")
			return
		}

		utils.OKResponse(c, "Categories retrieved successfully", page)
	}
}

func handleCreateDepartment(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := manager(c, db)
		if !ok {
			return
		}

		var req NamedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		department := models.Department{BusinessID: m.Business.ID, Name: strings.TrimSpace(req.Name)}
		if err := db.WithContext(c.Request.Context()).Create(&department).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to create department")
			return
		}

		utils.CreatedResponse(c, "Department created successfully", department)
	}
}

func handleListDepartments(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := member(c, db)
		if !ok {
			return
		}

		var departments []models.Department
		query := db.WithContext(c.Request.Context()).Model(&models.Department{}).Where("business_id = ?", m.Business.ID)
		page, err := listPage(c, query, "name", &departments)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch departments")
			return
		}

		utils.OKResponse(c, "Departments retrieved successfully", page)
	}
}
