package api

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jwksFixture struct {
	key    *rsa.PrivateKey
	kid    string
	served atomic.Value
	server *httptest.Server
	hits   atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &jwksFixture{key: key, kid: "kid-1"}
	f.served.Store(f.kid)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": f.served.Load().(string),
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) token(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func protectedEcho(cfg AuthConfig) http.Handler {
	return ClerkAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		_, _ = w.Write([]byte(userID))
	}))
}

func authRequest(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/service-charges", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return serve(handler, req)
}

func TestClerkAuthMiddleware_AcceptsValidToken(t *testing.T) {
	f := newJWKSFixture(t)
	handler := protectedEcho(AuthConfig{JWKSURL: f.server.URL, Audience: "estatehub", Issuer: "https://clerk.example.com"})

	token := f.token(t, f.kid, jwt.MapClaims{
		"sub": "user_123",
		"aud": "estatehub",
		"iss": "https://clerk.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	for i := 0; i < 3; i++ {
		rec := authRequest(handler, "Bearer "+token)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user_123", rec.Body.String())
	}
	assert.Equal(t, int32(1), f.hits.Load(), "keys are cached")
}

func TestClerkAuthMiddleware_Rejections(t *testing.T) {
	f := newJWKSFixture(t)
	handler := protectedEcho(AuthConfig{JWKSURL: f.server.URL, Audience: "estatehub", Issuer: "https://clerk.example.com"})
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "user_123",
			"aud": "estatehub",
			"iss": "https://clerk.example.com",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, valid())
	forged.Header["kid"] = f.kid
	forgedToken, err := forged.SignedString(otherKey)
	require.NoError(t, err)

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, valid()).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"not bearer", "Token abc"},
		{"garbage", "Bearer not-a-jwt"},
		{"forged signature", "Bearer " + forgedToken},
		{"hmac algorithm", "Bearer " + hmacToken},
		{"unknown kid", "Bearer " + f.token(t, "kid-unknown", valid())},
		{"expired", "Bearer " + f.token(t, f.kid, func() jwt.MapClaims {
			c := valid()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return c
		}())},
		{"wrong audience", "Bearer " + f.token(t, f.kid, func() jwt.MapClaims {
			c := valid()
			c["aud"] = "someone-else"
			return c
		}())},
		{"wrong issuer", "Bearer " + f.token(t, f.kid, func() jwt.MapClaims {
			c := valid()
			c["iss"] = "https://evil.example.com"
			return c
		}())},
		{"missing subject", "Bearer " + f.token(t, f.kid, func() jwt.MapClaims {
			c := valid()
			delete(c, "sub")
			return c
		}())},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := authRequest(handler, tc.authorization)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestJWKSCache_RefreshesOnRotation(t *testing.T) {
	f := newJWKSFixture(t)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	cache := newJWKSCache(f.server.URL, nil, time.Hour)
	cache.now = func() time.Time { return now }

	_, err := cache.key(context.Background(), "kid-1")
	require.NoError(t, err)

	f.served.Store("kid-2")
	_, err = cache.key(context.Background(), "kid-2")
	require.Error(t, err, "unknown kids do not refetch inside the refresh floor")
	assert.Equal(t, int32(1), f.hits.Load())

	now = now.Add(minJWKSRefresh + time.Second)
	_, err = cache.key(context.Background(), "kid-2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestParseRSAPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := parseRSAPublicKey(
		base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	)
	require.NoError(t, err)
	assert.Equal(t, 0, key.N.Cmp(pub.N))
	assert.Equal(t, key.E, pub.E)

	_, err = parseRSAPublicKey("!!", "AQAB")
	require.Error(t, err)
}
