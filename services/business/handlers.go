package main

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/tenancy"
	"github.com/suite33/backoffice/shared/utils"
)

const inviteTTL = 7 * 24 * time.Hour

// UpdateBusinessRequest represents the update business request
type UpdateBusinessRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// CreateInviteRequest represents the invite request
type CreateInviteRequest struct {
	Email string      `json:"email" binding:"required,email"`
	Role  models.Role `json:"role" binding:"required,oneof=SUB_ADMIN STAFF"`
}

// AcceptInviteRequest represents the invite acceptance request
type AcceptInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	FullName string `json:"full_name" binding:"required,max=255"`
	Password string `json:"password" binding:"required,min=8"`
}

// handleGetBusiness returns the caller's business
func handleGetBusiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middleware.GetIdentityFromContext(c)

		m, err := tenancy.ResolveMember(c.Request.Context(), db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}

		utils.OKResponse(c, "Business retrieved successfully", gin.H{
			"business": m.Business,
			"role":     m.User.Role,
		})
	}
}

// handleUpdateBusiness renames the business (admin only)
func handleUpdateBusiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middleware.GetIdentityFromContext(c)

		_, business, err := tenancy.ResolveAdmin(c.Request.Context(), db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}

		var req UpdateBusinessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		business.Name = strings.TrimSpace(req.Name)
		if err := db.WithContext(c.Request.Context()).Model(business).Update("name", business.Name).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to update business")
			return
		}

		utils.OKResponse(c, "Business updated successfully", business)
	}
}

// handleDeleteBusiness tears the whole tenant down. On success the caller's
// cookies are cleared since their account no longer exists.
func handleDeleteBusiness(svc *TeardownService, cookieSecure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middleware.GetIdentityFromContext(c)

		if _, err := svc.DeleteBusiness(c.Request.Context(), identity); err != nil {
			utils.RespondError(c, err, "Failed to delete business")
			return
		}

		middleware.ClearSessionCookies(c, cookieSecure)
		utils.OKResponse(c, "", nil)
	}
}

// handleCreateInvite issues an invitation. Only admins may invite sub-admins.
// The raw token is returned once; only its hash is stored.
func handleCreateInvite(db *gorm.DB, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, _ := middleware.GetIdentityFromContext(c)

		m, err := tenancy.ResolveMember(ctx, db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}
		if !m.CanManage() {
			utils.ForbiddenResponse(c, "Only admins and sub-admins can invite")
			return
		}

		var req CreateInviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format. Role must be 'SUB_ADMIN' or 'STAFF'")
			return
		}
		if req.Role == models.RoleSubAdmin && m.User.Role != models.RoleAdmin {
			utils.ForbiddenResponse(c, "Only the admin can invite sub-admins")
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))

		// tombstoned accounts keep their email
		var taken int64
		if err := db.WithContext(ctx).Unscoped().Model(&models.User{}).Where("email = ?", email).Count(&taken).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to create invite")
			return
		}
		if taken > 0 {
			utils.ConflictResponse(c, "A user with this email already exists")
			return
		}

		token, err := utils.NewSessionToken()
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to create invite")
			return
		}

		invite := models.Invite{
			BusinessID: m.Business.ID,
			Email:      email,
			Role:       req.Role,
			TokenHash:  utils.HashToken(token),
			InvitedBy:  m.User.ID,
			ExpiresAt:  time.Now().UTC().Add(inviteTTL),
		}

		// a re-invite replaces the pending one
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("business_id = ? AND email = ?", m.Business.ID, email).Delete(&models.Invite{}).Error; err != nil {
				return err
			}
			return tx.Create(&invite).Error
		})
		if err != nil {
			logger.WithError(err).WithField("business_id", m.Business.ID).Error("failed to create invite")
			utils.InternalServerErrorResponse(c, "Failed to create invite")
			return
		}

		utils.CreatedResponse(c, "Invite created successfully", gin.H{
			"invite": invite,
			"token":  token,
		})
	}
}

// handleListInvites lists the pending invites of the business
func handleListInvites(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, _ := middleware.GetIdentityFromContext(c)

		m, err := tenancy.ResolveMember(ctx, db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}
		if !m.CanManage() {
			utils.ForbiddenResponse(c, "Only admins and sub-admins can view invites")
			return
		}

		var invites []models.Invite
		if err := db.WithContext(ctx).Where("business_id = ?", m.Business.ID).Order("created_at DESC").Find(&invites).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch invites")
			return
		}

		utils.OKResponse(c, "Invites retrieved successfully", invites)
	}
}

// handleRevokeInvite removes a pending invite
func handleRevokeInvite(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, _ := middleware.GetIdentityFromContext(c)

		inviteID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid invite ID")
			return
		}

		m, err := tenancy.ResolveMember(ctx, db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}
		if !m.CanManage() {
			utils.ForbiddenResponse(c, "Only admins and sub-admins can revoke invites")
			return
		}

		res := db.WithContext(ctx).Where("id = ? AND business_id = ?", inviteID, m.Business.ID).Delete(&models.Invite{})
		if res.Error != nil {
			utils.InternalServerErrorResponse(c, "Failed to revoke invite")
			return
		}
		if res.RowsAffected == 0 {
			utils.NotFoundResponse(c, "Invite not found")
			return
		}

		utils.OKResponse(c, "Invite revoked", nil)
	}
}

// handleAcceptInvite turns a pending invite into a user and staff row.
// The invite is consumed in the same transaction.
func handleAcceptInvite(db *gorm.DB, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req AcceptInviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		var invite models.Invite
		err := db.WithContext(ctx).Where("token_hash = ?", utils.HashToken(req.Token)).First(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFoundResponse(c, "Invite not found")
			return
		}
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch invite")
			return
		}
		if invite.IsExpired(time.Now()) {
			utils.GoneResponse(c, "Invite has expired")
			return
		}

		user := models.User{
			Email:    invite.Email,
			FullName: strings.TrimSpace(req.FullName),
			Role:     invite.Role,
		}
		if err := user.SetPassword(req.Password); err != nil {
			utils.InternalServerErrorResponse(c, "Failed to accept invite")
			return
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where("id = ?", invite.ID).Delete(&models.Invite{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return utils.ErrGone
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			return tx.Create(&models.Staff{UserID: user.ID, BusinessID: invite.BusinessID}).Error
		})
		if errors.Is(err, utils.ErrGone) {
			utils.GoneResponse(c, "Invite has already been used")
			return
		}
		if err != nil {
			logger.WithError(err).WithField("business_id", invite.BusinessID).Error("failed to accept invite")
			utils.InternalServerErrorResponse(c, "Failed to accept invite")
			return
		}

		utils.CreatedResponse(c, "Invite accepted", user)
	}
}

// handleListStaff lists the live staff of the business with their users
func handleListStaff(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, _ := middleware.GetIdentityFromContext(c)

		m, err := tenancy.ResolveMember(ctx, db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}

		limit, offset := utils.ParsePage(c)
		query := db.WithContext(ctx).Model(&models.Staff{}).Where("business_id = ?", m.Business.ID).Session(&gorm.Session{})

		var total int64
		if err := query.Count(&total).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch staff")
			return
		}

		var staff []models.Staff
		if err := query.Preload("User").Order("created_at").Limit(limit).Offset(offset).Find(&staff).Error; err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch staff")
			return
		}

		utils.OKResponse(c, "Staff retrieved successfully", utils.Page{Items: staff, Limit: limit, Offset: offset, Total: total})
	}
}

// handleRemoveStaff tombstones one staff member and their login (admin only)
func handleRemoveStaff(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, _ := middleware.GetIdentityFromContext(c)

		staffID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid staff ID")
			return
		}

		_, business, err := tenancy.ResolveAdmin(ctx, db, identity)
		if err != nil {
			utils.RespondError(c, err, "Failed to fetch business")
			return
		}

		var staff models.Staff
		err = db.WithContext(ctx).Where("id = ? AND business_id = ?", staffID, business.ID).First(&staff).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFoundResponse(c, "Staff member not found")
			return
		}
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to fetch staff member")
			return
		}

		now := time.Now().UTC().Truncate(time.Microsecond)
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := tombstone(tx, &models.Staff{}, now, "id = ?", staff.ID); err != nil {
				return err
			}
			_, err := tombstone(tx, &models.User{}, now, "id = ?", staff.UserID)
			return err
		})
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to remove staff member")
			return
		}

		utils.OKResponse(c, "Staff member removed", nil)
	}
}
