package mouse_telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiter tracks endpoints that asked us to back off
type RateLimiter struct {
	mu         sync.RWMutex
	rateLimits map[string]time.Time // endpoint key -> disabled until time
	logger     *zap.Logger
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		rateLimits: make(map[string]time.Time),
		logger:     logger,
		now:        time.Now,
	}
}

// IsRateLimited checks if the endpoint is currently rate limited
func (rl *RateLimiter) IsRateLimited(key string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	disabledUntil, exists := rl.rateLimits[key]
	return exists && disabledUntil.After(rl.now())
}

// GetDisabledUntil returns the time until which the endpoint is disabled
func (rl *RateLimiter) GetDisabledUntil(key string) time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if disabledUntil, exists := rl.rateLimits[key]; exists && disabledUntil.After(rl.now()) {
		return disabledUntil
	}
	return time.Time{}
}

// HandleRateLimitHeaders applies the Retry-After header of a throttling
// response. Without a usable header nothing is blocked and it returns false.
func (rl *RateLimiter) HandleRateLimitHeaders(key string, headers http.Header) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	retryAfter := strings.TrimSpace(headers.Get("Retry-After"))

	// Try to parse as seconds
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
		until := now.Add(time.Duration(seconds) * time.Second)
		rl.rateLimits[key] = until
		rl.logger.Warn("Rate limit applied via Retry-After header",
			zap.String("endpoint", key),
			zap.Time("disabled_until", until),
			zap.Int("retry_after_seconds", seconds))
		return true
	}

	// Try to parse as HTTP date
	if retryTime, err := http.ParseTime(retryAfter); err == nil && retryTime.After(now) {
		rl.rateLimits[key] = retryTime
		rl.logger.Warn("Rate limit applied via Retry-After header",
			zap.String("endpoint", key),
			zap.Time("disabled_until", retryTime))
		return true
	}

	rl.logger.Debug("Throttling response without usable Retry-After header",
		zap.String("endpoint", key),
		zap.String("header", retryAfter))
	return false
}

// CleanupExpired removes expired rate limits
func (rl *RateLimiter) CleanupExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, disabledUntil := range rl.rateLimits {
		if !disabledUntil.After(now) {
			delete(rl.rateLimits, key)
		}
	}
}

// GetStatus returns current rate limit status
func (rl *RateLimiter) GetStatus() map[string]time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	status := make(map[string]time.Time, len(rl.rateLimits))
	for key, disabledUntil := range rl.rateLimits {
		status[key] = disabledUntil
	}

	return status
}
