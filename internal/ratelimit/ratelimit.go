// Package ratelimit provides rate limiting for the StakeDuel API, both as
// per-IP HTTP middleware and as a per-user throttle on bounty creation.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per key per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults for the HTTP middleware
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60, // 1 req/sec average
		BurstSize:         10, // Allow bursts of 10
		CleanupInterval:   time.Minute,
	}
}

// CreateConfig returns defaults for the per-user bounty creation throttle:
// 10 creates per hour with room for a burst of 3.
func CreateConfig(perHour int) Config {
	if perHour <= 0 {
		perHour = 10
	}
	return Config{
		RequestsPerMinute: perHour, // interpreted per hour via rate below
		BurstSize:         3,
		CleanupInterval:   10 * time.Minute,
	}
}

// Limiter tracks token buckets by key
type Limiter struct {
	cfg     Config
	rate    float64 // tokens per second
	mu      sync.Mutex
	clients map[string]*clientState
	stop    chan struct{}
	now     func() time.Time
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a rate limiter refilling RequestsPerMinute tokens per minute.
func New(cfg Config) *Limiter {
	return newLimiter(cfg, float64(cfg.RequestsPerMinute)/60.0)
}

// NewPerHour creates a rate limiter refilling RequestsPerMinute tokens per
// hour, used for the bounty creation throttle.
func NewPerHour(cfg Config) *Limiter {
	return newLimiter(cfg, float64(cfg.RequestsPerMinute)/3600.0)
}

func newLimiter(cfg Config, rate float64) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		rate:    rate,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// WithClock overrides the clock for deterministic tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * l.cfg.CleanupInterval)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, exists := l.clients[key]

	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return true
	}

	// Token bucket algorithm
	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * l.rate
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// Middleware returns a Gin middleware that rate limits by client IP, or by
// user identity when the X-User header is present.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if user := c.GetHeader("X-User"); user != "" {
			key = "user:" + user
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
