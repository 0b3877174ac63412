package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

// ErrInvalidCredential is returned when a credential resolves to nobody.
var ErrInvalidCredential = fmt.Errorf("invalid or expired credential: %w", utils.ErrUnauthorized)

// IdentityProvider resolves a request credential to the caller's identity
type IdentityProvider interface {
	GetCurrentUser(ctx context.Context, credential string) (*models.UserIdentity, error)
}

// SessionIdentityProvider resolves opaque session tokens issued by the auth service
type SessionIdentityProvider struct {
	sessions *utils.SessionStore
	logger   logrus.FieldLogger
}

func NewSessionIdentityProvider(sessions *utils.SessionStore, logger logrus.FieldLogger) *SessionIdentityProvider {
	return &SessionIdentityProvider{sessions: sessions, logger: logger}
}

func (p *SessionIdentityProvider) GetCurrentUser(ctx context.Context, credential string) (*models.UserIdentity, error) {
	session, err := p.sessions.Get(ctx, credential)
	if errors.Is(err, utils.ErrSessionNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}

	if err := p.sessions.Touch(ctx, credential, session); err != nil {
		p.logger.WithError(err).Debug("failed to touch session")
	}

	identity := session.Identity
	return &identity, nil
}

// CognitoIdentityProvider resolves Cognito JWTs. The token's subject is
// mapped onto the stored user; tombstoned users still resolve so that
// callers can tell a deleted tenant from a bad credential.
type CognitoIdentityProvider struct {
	validator *utils.JWKSValidator
	breaker   *utils.CircuitBreaker
	db        *gorm.DB
}

func NewCognitoIdentityProvider(validator *utils.JWKSValidator, breaker *utils.CircuitBreaker, db *gorm.DB) *CognitoIdentityProvider {
	return &CognitoIdentityProvider{validator: validator, breaker: breaker, db: db}
}

// GetCurrentUser validates credential as a Cognito JWT. Only key set
// outages count against the breaker; a bad token is just unauthorized.
func (p *CognitoIdentityProvider) GetCurrentUser(ctx context.Context, credential string) (*models.UserIdentity, error) {
	var (
		claims *utils.CognitoClaims
		verr   error
	)
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		claims, verr = p.validator.ValidateToken(ctx, credential)
		if errors.Is(verr, utils.ErrKeySetUnavailable) {
			return verr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return nil, fmt.Errorf("%v: %w", verr, ErrInvalidCredential)
	}

	var user models.User
	err = p.db.WithContext(ctx).Unscoped().Where("cognito_sub = ?", claims.Subject).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	identity := user.Identity()
	return &identity, nil
}

// ChainIdentityProvider tries each provider in turn and returns the first
// identity found. Infrastructure errors stop the chain.
type ChainIdentityProvider struct {
	providers []IdentityProvider
}

func NewChainIdentityProvider(providers ...IdentityProvider) *ChainIdentityProvider {
	return &ChainIdentityProvider{providers: providers}
}

func (p *ChainIdentityProvider) GetCurrentUser(ctx context.Context, credential string) (*models.UserIdentity, error) {
	for _, provider := range p.providers {
		identity, err := provider.GetCurrentUser(ctx, credential)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, utils.ErrUnauthorized) {
			return nil, err
		}
	}
	return nil, ErrInvalidCredential
}
