/**
 * @description
 * Per-client token bucket limiter for the public webhook endpoint. Buckets
 * live in memory and idle ones are swept periodically; the Redis limiter in
 * internal/app covers the per-payer limits that must hold across replicas.
 */

package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity float64
	perToken time.Duration
	idleTTL  time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewIPRateLimiter allows requestsPerMinute per client with the given burst.
// Call Close to stop the sweeper.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if burst < 1 {
		burst = requestsPerMinute
	}
	rl := &IPRateLimiter{
		buckets:  make(map[string]*tokenBucket),
		capacity: float64(burst),
		perToken: time.Minute / time.Duration(requestsPerMinute),
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.sweep(5 * time.Minute)
	return rl
}

// Allow consumes a token for key and reports whether the request may proceed.
func (rl *IPRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[key] = bucket
	}
	elapsed := now.Sub(bucket.lastSeen)
	if elapsed > 0 {
		bucket.tokens = min(rl.capacity, bucket.tokens+float64(elapsed)/float64(rl.perToken))
		bucket.lastSeen = now
	}
	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

func (rl *IPRateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stop:
			return
		}
	}
}

func (rl *IPRateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > rl.idleTTL {
			delete(rl.buckets, key)
		}
	}
}

// Close stops the background sweeper.
func (rl *IPRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware rejects clients that exhausted their bucket with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.perToken.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded; please try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
