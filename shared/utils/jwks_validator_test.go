package utils

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwksFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	hits   atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pool/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		f.hits.Add(1)
		json.NewEncoder(w).Encode(JWKS{Keys: []JWK{{
			Kid: "kid-1",
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *jwksFixture) issuer() string {
	return f.server.URL + "/pool"
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims CognitoClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestJWKSValidator_ValidateToken(t *testing.T) {
	f := newJWKSFixture(t)
	v := NewJWKSValidator(f.issuer(), f.server.Client())

	valid := CognitoClaims{
		Email:    "ada@acme.test",
		TokenUse: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-123",
			Issuer:    f.issuer(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	tests := []struct {
		name    string
		token   func() string
		wantErr bool
	}{
		{
			name:  "valid id token",
			token: func() string { return f.sign(t, "kid-1", valid) },
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := valid
				c.Issuer = "https://evil.example"
				return f.sign(t, "kid-1", c)
			},
			wantErr: true,
		},
		{
			name: "expired",
			token: func() string {
				c := valid
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return f.sign(t, "kid-1", c)
			},
			wantErr: true,
		},
		{
			name: "unknown kid",
			token: func() string {
				return f.sign(t, "kid-2", valid)
			},
			wantErr: true,
		},
		{
			name: "refresh token use",
			token: func() string {
				c := valid
				c.TokenUse = "refresh"
				return f.sign(t, "kid-1", c)
			},
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   func() string { return "not-a-jwt" },
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := v.ValidateToken(context.Background(), tc.token())
			if tc.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.Subject != "sub-123" || claims.Email != "ada@acme.test" {
				t.Errorf("unexpected claims %+v", claims)
			}
		})
	}
}

func TestJWKSValidator_CachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	v := NewJWKSValidator(f.issuer(), f.server.Client())

	claims := CognitoClaims{
		TokenUse: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-1",
			Issuer:    f.issuer(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := f.sign(t, "kid-1", claims)

	for i := 0; i < 3; i++ {
		if _, err := v.ValidateToken(context.Background(), token); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if hits := f.hits.Load(); hits != 1 {
		t.Errorf("expected a single JWKS fetch, got %d", hits)
	}
}
