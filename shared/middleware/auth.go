package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

const (
	// SessionCookieName carries the opaque session token
	SessionCookieName = "suite33_session"
	// RoleCookieName lets the dashboard pick a layout without a round trip
	RoleCookieName = "suite33_role"

	identityKey   = "identity"
	credentialKey = "credential"
)

// AuthMiddleware resolves the caller on every protected route
type AuthMiddleware struct {
	provider IdentityProvider
	logger   logrus.FieldLogger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(provider IdentityProvider, logger logrus.FieldLogger) *AuthMiddleware {
	return &AuthMiddleware{provider: provider, logger: logger}
}

// RequireAuth rejects requests without a resolvable credential with 401.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := ExtractCredential(c)
		if credential == "" {
			utils.UnauthorizedResponse(c, "Authentication required")
			c.Abort()
			return
		}

		identity, err := am.provider.GetCurrentUser(c.Request.Context(), credential)
		if err != nil {
			if utils.StatusFor(err) == http.StatusInternalServerError {
				am.logger.WithError(err).Error("failed to resolve caller identity")
			}
			utils.RespondError(c, err, "Failed to resolve session")
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Set(credentialKey, credential)
		c.Set("user_id", identity.UserID.String())
		c.Set("email", identity.Email)
		c.Set("role", string(identity.Role))

		c.Next()
	}
}

// RequireRole allows only callers whose session role is one of roles.
func (am *AuthMiddleware) RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentityFromContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Authentication required")
			c.Abort()
			return
		}

		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}

		utils.ForbiddenResponse(c, "Insufficient permissions")
		c.Abort()
	}
}

// ExtractCredential returns the session cookie or, failing that, the
// bearer token of the Authorization header.
func ExtractCredential(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// GetIdentityFromContext returns the identity set by RequireAuth
func GetIdentityFromContext(c *gin.Context) (*models.UserIdentity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*models.UserIdentity)
	return identity, ok && identity != nil
}

// GetCredentialFromContext returns the raw credential the caller presented
func GetCredentialFromContext(c *gin.Context) string {
	return c.GetString(credentialKey)
}

// SetSessionCookies issues the session and role cookies after login.
func SetSessionCookies(c *gin.Context, token string, role models.Role, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(ttl.Seconds()), "/", "", secure, true)
	c.SetCookie(RoleCookieName, string(role), int(ttl.Seconds()), "/", "", secure, false)
}

// ClearSessionCookies expires both cookies on the client.
func ClearSessionCookies(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", secure, true)
	c.SetCookie(RoleCookieName, "", -1, "/", "", secure, false)
}
