package utils

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// CognitoClaims are the claims Suite33 reads from a Cognito token
type CognitoClaims struct {
	Email    string `json:"email"`
	Username string `json:"cognito:username"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// ErrKeySetUnavailable marks failures to fetch the key set, as opposed to
// tokens that are simply invalid.
var ErrKeySetUnavailable = errors.New("JWKS key set unavailable")

// CognitoIssuer returns the issuer of tokens minted by a user pool.
func CognitoIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// JWKSValidator validates RS256 tokens against a remote key set
type JWKSValidator struct {
	jwksURL    string
	issuer     string
	httpClient *http.Client

	mutex       sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastRefresh time.Time
	refreshTTL  time.Duration
}

// NewJWKSValidator creates a validator for tokens issued by issuer. Keys are
// fetched lazily from issuer's well-known JWKS document.
func NewJWKSValidator(issuer string, httpClient *http.Client) *JWKSValidator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSValidator{
		jwksURL:    issuer + "/.well-known/jwks.json",
		issuer:     issuer,
		httpClient: httpClient,
		keys:       make(map[string]*rsa.PublicKey),
		refreshTTL: 24 * time.Hour,
	}
}

func (v *JWKSValidator) refreshKeys(ctx context.Context, force bool) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !force && time.Since(v.lastRefresh) < v.refreshTTL {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		pub, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = pub
	}

	v.keys = keys
	v.lastRefresh = time.Now()
	return nil
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode N: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode E: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// GetKey returns the public key for kid, refetching the key set once when
// the kid is unknown (key rotation).
func (v *JWKSValidator) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mutex.RLock()
	key, ok := v.keys[kid]
	v.mutex.RUnlock()
	if ok {
		return key, nil
	}

	if err := v.refreshKeys(ctx, true); err != nil {
		return nil, fmt.Errorf("failed to refresh keys: %v: %w", err, ErrKeySetUnavailable)
	}

	v.mutex.RLock()
	key, ok = v.keys[kid]
	v.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

// ValidateToken verifies signature, issuer, expiry and token_use.
func (v *JWKSValidator) ValidateToken(ctx context.Context, tokenString string) (*CognitoClaims, error) {
	claims := new(CognitoClaims)
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in token header")
		}
		return v.GetKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if claims.TokenUse != "access" && claims.TokenUse != "id" {
		return nil, fmt.Errorf("invalid token use %q", claims.TokenUse)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return claims, nil
}
