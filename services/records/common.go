package main

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/tenancy"
	"github.com/suite33/backoffice/shared/utils"
)

// member resolves the caller's business or writes the error response.
func member(c *gin.Context, db *gorm.DB) (*tenancy.Membership, bool) {
	identity, _ := middleware.GetIdentityFromContext(c)

	m, err := tenancy.ResolveMember(c.Request.Context(), db, identity)
	if err != nil {
		utils.RespondError(c, err, "Failed to fetch business")
		return nil, false
	}
	return m, true
}

// manager is member restricted to admins and sub-admins.
func manager(c *gin.Context, db *gorm.DB) (*tenancy.Membership, bool) {
	m, ok := member(c, db)
	if !ok {
		return nil, false
	}
	if !m.CanManage() {
		utils.ForbiddenResponse(c, "Only admins and sub-admins can do this")
		return nil, false
	}
	return m, true
}

// admin resolves the business of a caller whose stored role is ADMIN.
// The role cached in the session is not trusted here.
func admin(c *gin.Context, db *gorm.DB) (*models.Business, bool) {
	identity, _ := middleware.GetIdentityFromContext(c)

	_, business, err := tenancy.ResolveAdmin(c.Request.Context(), db, identity)
	if err != nil {
		utils.RespondError(c, err, "Failed to fetch business")
		return nil, false
	}
	return business, true
}

// listPage counts query and loads one page of it into items, a pointer to a
// slice. Associations named in preload are loaded for the page only.
func listPage(c *gin.Context, query *gorm.DB, order string, items interface{}, preload ...string) (*utils.Page, error) {
	limit, offset := utils.ParsePage(c)
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}
	find := query
	for _, association := range preload {
		find = find.Preload(association)
	}
	if err := find.Order(order).Limit(limit).Offset(offset).Find(items).Error; err != nil {
		return nil, err
	}

	return &utils.Page{Items: items, Limit: limit, Offset: offset, Total: total}, nil
}
