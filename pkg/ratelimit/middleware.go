package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"fwupdate/internal/config"
	"fwupdate/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// FromConfig fills unset values from DefaultConfig. Intervals are seconds.
func FromConfig(cfg config.RateLimitConfig) RateLimitConfig {
	out := DefaultConfig()
	if cfg.RPS > 0 {
		out.RPS = cfg.RPS
	}
	if cfg.Burst > 0 {
		out.Burst = cfg.Burst
	}
	if cfg.CleanupInterval > 0 {
		out.CleanupInterval = time.Duration(cfg.CleanupInterval) * time.Second
	}
	if cfg.MaxAge > 0 {
		out.MaxAge = time.Duration(cfg.MaxAge) * time.Second
	}
	return out
}

type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	config   RateLimitConfig
}

func (s *limiterSet) get(key string) *Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[key]
	s.mu.RUnlock()
	if exists {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, exists = s.limiters[key]
	if !exists {
		limiter = &Limiter{
			limiter:  rate.NewLimiter(rate.Limit(s.config.RPS), s.config.Burst),
			lastSeen: time.Now(),
		}
		s.limiters[key] = limiter
	}
	return limiter
}

func (s *limiterSet) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, limiter := range s.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > s.config.MaxAge {
			delete(s.limiters, key)
		}
	}
}

// RateLimitMiddleware limits requests per client IP. Idle limiters are
// dropped until ctx is done.
func RateLimitMiddleware(ctx context.Context, cfg RateLimitConfig) gin.HandlerFunc {
	set := &limiterSet{limiters: make(map[string]*Limiter), config: cfg}

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				set.cleanup(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := set.get(clientIP)
		limiter.mu.Lock()
		limiter.lastSeen = time.Now()
		limiter.mu.Unlock()

		c.Header("X-RateLimit-Limit", formatRate(cfg.RPS))

		if !limiter.limiter.Allow() {
			metrics.IncRateLimit("limited")
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.IncRateLimit("allowed")

		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
