package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	rl := NewIPRateLimiter(60, 2)
	defer rl.Close()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))

	now = now.Add(time.Hour)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"), "refill is capped at burst")
}

func TestIPRateLimiter_EvictIdle(t *testing.T) {
	rl := NewIPRateLimiter(60, 1)
	defer rl.Close()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("1.1.1.1")
	now = now.Add(11 * time.Minute)
	rl.Allow("2.2.2.2")
	rl.evictIdle()

	assert.NotContains(t, rl.buckets, "1.1.1.1")
	assert.Contains(t, rl.buckets, "2.2.2.2")
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	rl := NewIPRateLimiter(1, 1)
	defer rl.Close()
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/monnify", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5123"
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.9")
	assert.Equal(t, "192.0.2.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
