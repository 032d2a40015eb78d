package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whiskertales/backend/internal/logger"
)

type memCacheEntry struct {
	value     string
	expiresAt time.Time
}

type memCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memCacheEntry
	fail    bool
}

func newMemCache(now func() time.Time) *memCache {
	return &memCache{now: now, entries: map[string]memCacheEntry{}}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || (!e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *memCache) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memCacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *memCache) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCache) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if m.fail {
		return 0, context.DeadlineExceeded
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.entries[key]; ok && (e.expiresAt.IsZero() || m.now().Before(e.expiresAt)) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	e := memCacheEntry{value: strconv.FormatInt(n, 10)}
	if n == 1 && ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	} else if prev, ok := m.entries[key]; ok {
		e.expiresAt = prev.expiresAt
	}
	m.entries[key] = e
	return n, nil
}

func (m *memCache) Close() error { return nil }

func newLimitedRouter(rl *RateLimiter, capability string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", rl.Limit(capability), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func hit(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterEnforcesMax(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	cache := newMemCache(now)

	rl := NewRateLimiter(logger.NewNop(), cache, Policy{
		"test": {{Max: 2, Window: time.Minute, Key: KeyIP}},
	})
	rl.now = now
	r := newLimitedRouter(rl, "test")

	for i := 0; i < 2; i++ {
		if w := hit(r); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := hit(r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
	if w.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("X-RateLimit-Limit = %q, want 2", w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiterWindowRollover(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)
	now := func() time.Time { return current }
	cache := newMemCache(now)

	rl := NewRateLimiter(logger.NewNop(), cache, Policy{
		"test": {{Max: 1, Window: time.Minute, Key: KeyIP}},
	})
	rl.now = now
	r := newLimitedRouter(rl, "test")

	if w := hit(r); w.Code != http.StatusOK {
		t.Fatalf("first request blocked: %d", w.Code)
	}
	if w := hit(r); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", w.Code)
	}

	current = current.Add(time.Minute)
	if w := hit(r); w.Code != http.StatusOK {
		t.Fatalf("request in next window blocked: %d", w.Code)
	}
}

func TestRateLimiterStacksRules(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	cache := newMemCache(now)

	// Burst limit passes, sustained limit does not.
	rl := NewRateLimiter(logger.NewNop(), cache, Policy{
		"test": {
			{Max: 100, Window: time.Minute, Key: KeyIP},
			{Max: 3, Window: time.Hour, Key: KeyIP},
		},
	})
	rl.now = now
	r := newLimitedRouter(rl, "test")

	for i := 0; i < 3; i++ {
		if w := hit(r); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}
	if w := hit(r); w.Code != http.StatusTooManyRequests {
		t.Fatalf("sustained rule not enforced, got %d", w.Code)
	}
}

func TestRateLimiterFailsOpenOnCacheError(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	cache := newMemCache(now)
	cache.fail = true

	rl := NewRateLimiter(logger.NewNop(), cache, Policy{
		"test": {{Max: 1, Window: time.Minute, Key: KeyIP}},
	})
	rl.now = now
	r := newLimitedRouter(rl, "test")

	for i := 0; i < 5; i++ {
		if w := hit(r); w.Code != http.StatusOK {
			t.Fatalf("request %d blocked during cache outage: %d", i+1, w.Code)
		}
	}
}

func TestRateLimiterUnknownCapabilityPassesThrough(t *testing.T) {
	cache := newMemCache(time.Now)
	rl := NewRateLimiter(logger.NewNop(), cache, Policy{})
	r := newLimitedRouter(rl, "nonexistent")

	for i := 0; i < 10; i++ {
		if w := hit(r); w.Code != http.StatusOK {
			t.Fatalf("unknown capability should not limit, got %d", w.Code)
		}
	}
}
