package startup

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// RetryConfig configures the exponential backoff retry behavior.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  uint64
}

// DefaultRetryConfig returns the startup network retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxAttempts:  5,
	}
}

var networkIndicators = []string{
	"connection refused",
	"no such host",
	"timeout",
	"network is unreachable",
	"no route to host",
	"host is down",
	"dial tcp",
	"dial udp",
	"i/o timeout",
	"connection reset",
	"temporary failure in name resolution",
}

// IsNetworkError checks if an error is likely due to network unavailability.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// WithRetry runs fn with exponential backoff, retrying network errors
// only. Other errors fail immediately.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, fn func(ctx context.Context) error, logger *zerolog.Logger) error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	backoff := retry.NewExponential(cfg.InitialDelay)
	backoff = retry.WithCappedDuration(cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(cfg.MaxAttempts-1, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("operation", name).Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}
		if !IsNetworkError(err) {
			logger.Error().Err(err).Str("operation", name).Msg("non-network error, not retrying")
			return err
		}
		logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Uint64("maxAttempts", cfg.MaxAttempts).
			Msg("network error, will retry")
		return retry.RetryableError(err)
	})
	if err != nil && IsNetworkError(err) {
		logger.Error().Err(err).Str("operation", name).Int("attempts", attempt).
			Msg("operation failed after all retries")
	}
	return err
}
