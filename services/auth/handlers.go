package main

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/middleware"
	"github.com/suite33/backoffice/shared/utils"
)

// LoginRequest represents the login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// sessionOptions are the settings of issued sessions and their cookies
type sessionOptions struct {
	TTL          time.Duration
	CookieSecure bool
}

// handleLogin authenticates the caller and issues a session cookie
func handleLogin(db *gorm.DB, authn Authenticator, sessions *utils.SessionStore, opts sessionOptions, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		user, err := authn.Authenticate(ctx, req.Email, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
				utils.ServiceUnavailableResponse(c, "Authentication service temporarily unavailable")
			case errors.Is(err, utils.ErrUnauthorized):
				utils.UnauthorizedResponse(c, "Invalid credentials")
			default:
				logger.WithError(err).Error("login failed")
				utils.InternalServerErrorResponse(c, "Failed to sign in")
			}
			return
		}

		token, err := utils.NewSessionToken()
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to create session")
			return
		}

		session, err := sessions.Create(ctx, token, user.Identity(), opts.TTL)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to create session")
			utils.InternalServerErrorResponse(c, "Failed to create session")
			return
		}

		if err := db.WithContext(ctx).Model(user).UpdateColumn("last_login_at", session.CreatedAt).Error; err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Warn("failed to record last login")
		}

		logger.WithFields(logrus.Fields{
			"user_id":    user.ID,
			"session_id": session.SessionID,
		}).Info("user signed in")

		middleware.SetSessionCookies(c, token, user.Role, opts.TTL, opts.CookieSecure)
		utils.OKResponse(c, "Login successful", gin.H{
			"user":       user,
			"expires_at": session.ExpiresAt,
		})
	}
}

// handleLogout revokes the current session
func handleLogout(sessions *utils.SessionStore, opts sessionOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sessions.Revoke(c.Request.Context(), middleware.GetCredentialFromContext(c)); err != nil {
			utils.InternalServerErrorResponse(c, "Failed to revoke session")
			return
		}

		middleware.ClearSessionCookies(c, opts.CookieSecure)
		utils.OKResponse(c, "Logout successful", nil)
	}
}

// handleRevokeAllSessions signs the caller out everywhere
func handleRevokeAllSessions(sessions *utils.SessionStore, opts sessionOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middleware.GetIdentityFromContext(c)

		revoked, err := sessions.RevokeAllForUser(c.Request.Context(), identity.UserID)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to revoke sessions")
			return
		}

		middleware.ClearSessionCookies(c, opts.CookieSecure)
		utils.OKResponse(c, "Sessions revoked", gin.H{"revoked": revoked})
	}
}

// handleMe returns the caller's identity
func handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middleware.GetIdentityFromContext(c)
		utils.OKResponse(c, "Current user", identity)
	}
}
