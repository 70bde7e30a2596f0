package mouse_telemetry

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryManager handles retry logic for failed samples
type RetryManager struct {
	config  *RetryConfig
	logger  *zap.Logger
	metrics *metricsCollector
}

// NewRetryManager creates a new retry manager
func NewRetryManager(config *RetryConfig, logger *zap.Logger, metrics *metricsCollector) *RetryManager {
	return &RetryManager{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// ShouldRetry records a failed attempt and reports whether the sample goes
// back to the retry queue
func (rm *RetryManager) ShouldRetry(sample *Sample, err error) bool {
	sample.RetryCount++

	if sample.RetryCount > rm.config.MaxAttempts {
		rm.logger.Error("Sample failed after max retries, discarding",
			zap.String("sample_id", sample.ID),
			zap.Int("retry_count", sample.RetryCount),
			zap.Int("max_attempts", rm.config.MaxAttempts),
			zap.Error(err))

		rm.metrics.IncDroppedSamples()
		return false
	}

	rm.logger.Debug("Added sample to retry queue",
		zap.String("sample_id", sample.ID),
		zap.Int("attempt", sample.RetryCount),
		zap.Int("max_attempts", rm.config.MaxAttempts),
		zap.Error(err))

	rm.metrics.IncRetriedSamples()
	return true
}

// CalculateBackoff returns the delay before retry round n (1-based)
func (rm *RetryManager) CalculateBackoff(round int) time.Duration {
	if round <= 1 {
		return rm.config.InitialBackoff
	}

	backoff := float64(rm.config.InitialBackoff) * math.Pow(rm.config.BackoffMultiplier, float64(round-1))

	// Cap at maximum backoff
	if backoff > float64(rm.config.MaxBackoff) {
		return rm.config.MaxBackoff
	}

	return time.Duration(backoff)
}

// GetRetryStats returns retry statistics
func (rm *RetryManager) GetRetryStats() map[string]interface{} {
	return map[string]interface{}{
		"max_attempts":       rm.config.MaxAttempts,
		"initial_backoff":    rm.config.InitialBackoff.String(),
		"backoff_multiplier": rm.config.BackoffMultiplier,
		"max_backoff":        rm.config.MaxBackoff.String(),
	}
}
