package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestAllow_Burst(t *testing.T) {
	clock := &testClock{t: time.Now()}
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Hour}).WithClock(clock.Now)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("k"), "request %d within burst", i)
	}
	require.False(t, l.Allow("k"), "burst exhausted")
}

func TestAllow_Refills(t *testing.T) {
	clock := &testClock{t: time.Now()}
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour}).WithClock(clock.Now)
	defer l.Stop()

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	// 60/min refills one token per second.
	clock.Advance(time.Second)
	require.True(t, l.Allow("k"))
}

func TestAllow_IndependentKeys(t *testing.T) {
	clock := &testClock{t: time.Now()}
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour}).WithClock(clock.Now)
	defer l.Stop()

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"), "keys have separate buckets")
}

func TestNewPerHour_SlowRefill(t *testing.T) {
	clock := &testClock{t: time.Now()}
	l := NewPerHour(CreateConfig(20)).WithClock(clock.Now)
	defer l.Stop()

	// Burst of 3, then 20/hour means one token every 3 minutes.
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("alice"))
	}
	require.False(t, l.Allow("alice"))

	clock.Advance(time.Minute)
	require.False(t, l.Allow("alice"))

	clock.Advance(3 * time.Minute)
	require.True(t, l.Allow("alice"))
}

func TestMiddleware_KeysByUserHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := &testClock{t: time.Now()}
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour}).WithClock(clock.Now)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, get("alice"))
	require.Equal(t, http.StatusTooManyRequests, get("alice"))
	require.Equal(t, http.StatusOK, get("bob"), "different user, different bucket")
}
