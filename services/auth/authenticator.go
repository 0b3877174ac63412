package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/models"
	"github.com/suite33/backoffice/shared/utils"
)

//go:generate mockgen -build_flags=--mod=mod -package main -destination ./mock_authenticator.go -source=./authenticator.go Authenticator

// ErrBadCredentials covers every way a login can be refused, so callers
// cannot probe which accounts exist.
var ErrBadCredentials = fmt.Errorf("invalid email or password: %w", utils.ErrUnauthorized)

// Authenticator checks a password and returns the live user it belongs to
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

// cognitoRejections are Cognito errors that mean "wrong credentials", not
// "Cognito is unhealthy". They do not trip the breaker.
var cognitoRejections = map[string]bool{
	cognitoidentityprovider.ErrCodeNotAuthorizedException:         true,
	cognitoidentityprovider.ErrCodeUserNotFoundException:          true,
	cognitoidentityprovider.ErrCodeUserNotConfirmedException:      true,
	cognitoidentityprovider.ErrCodePasswordResetRequiredException: true,
}

// CognitoAuthenticator signs users in against a Cognito app client
type CognitoAuthenticator struct {
	client       cognitoidentityprovideriface.CognitoIdentityProviderAPI
	clientID     string
	clientSecret string
	breaker      *utils.CircuitBreaker
	db           *gorm.DB
}

func NewCognitoAuthenticator(client cognitoidentityprovideriface.CognitoIdentityProviderAPI, clientID, clientSecret string, breaker *utils.CircuitBreaker, db *gorm.DB) *CognitoAuthenticator {
	return &CognitoAuthenticator{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		breaker:      breaker,
		db:           db,
	}
}

// secretHash is required by app clients that have a secret.
func (a *CognitoAuthenticator) secretHash(username string) string {
	mac := hmac.New(sha256.New, []byte(a.clientSecret))
	mac.Write([]byte(username + a.clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (a *CognitoAuthenticator) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	params := map[string]*string{
		"USERNAME": aws.String(email),
		"PASSWORD": aws.String(password),
	}
	if a.clientSecret != "" {
		params["SECRET_HASH"] = aws.String(a.secretHash(email))
	}

	input := &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       aws.String(cognitoidentityprovider.AuthFlowTypeUserPasswordAuth),
		ClientId:       aws.String(a.clientID),
		AuthParameters: params,
	}

	var (
		output   *cognitoidentityprovider.InitiateAuthOutput
		rejected bool
	)
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		out, err := a.client.InitiateAuthWithContext(ctx, input)
		var aerr awserr.Error
		if errors.As(err, &aerr) && cognitoRejections[aerr.Code()] {
			rejected = true
			return nil
		}
		output = out
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cognito sign-in failed: %w", err)
	}
	if rejected {
		return nil, ErrBadCredentials
	}
	if output.AuthenticationResult == nil || output.AuthenticationResult.IdToken == nil {
		return nil, fmt.Errorf("cognito challenge %s is not supported: %w", aws.StringValue(output.ChallengeName), utils.ErrUnauthorized)
	}

	sub, err := subjectOf(aws.StringValue(output.AuthenticationResult.IdToken))
	if err != nil {
		return nil, err
	}

	var user models.User
	err = a.db.WithContext(ctx).Where("cognito_sub = ?", sub).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return &user, nil
}

// subjectOf reads the sub claim of an ID token that came straight from
// Cognito over TLS, so the signature is not checked again here.
func subjectOf(idToken string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return "", fmt.Errorf("failed to parse id token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("id token has no subject")
	}
	return claims.Subject, nil
}

// LocalAuthenticator checks bcrypt password hashes stored on the user row.
// It serves users created by accepting an invite and deployments without
// a Cognito pool.
type LocalAuthenticator struct {
	db *gorm.DB
}

func NewLocalAuthenticator(db *gorm.DB) *LocalAuthenticator {
	return &LocalAuthenticator{db: db}
}

func (a *LocalAuthenticator) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !user.CheckPassword(password) {
		return nil, ErrBadCredentials
	}
	return &user, nil
}

// ChainAuthenticator tries each authenticator in turn until one accepts.
// Only bad-credential refusals fall through; other errors stop the chain.
type ChainAuthenticator []Authenticator

func (c ChainAuthenticator) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	for _, a := range c {
		user, err := a.Authenticate(ctx, email, password)
		if errors.Is(err, ErrBadCredentials) {
			continue
		}
		return user, err
	}
	return nil, ErrBadCredentials
}
