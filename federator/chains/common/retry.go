package common

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int              // Retries after the first attempt
	InitialDelay   time.Duration    // Initial delay between retries
	MaxDelay       time.Duration    // Maximum delay between retries
	BackoffFactor  float64          // Exponential backoff factor (e.g., 2.0)
	RetryableError func(error) bool // Decides whether an error is transient
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		RetryableError: fedErrors.IsRetryable,
	}
}

// RetryManager wraps remote calls with bounded retries and exponential backoff.
type RetryManager struct {
	config *RetryConfig
	logger zerolog.Logger
}

// NewRetryManager creates a new retry manager
func NewRetryManager(config *RetryConfig, logger zerolog.Logger) *RetryManager {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.RetryableError == nil {
		config.RetryableError = fedErrors.IsRetryable
	}
	return &RetryManager{
		config: config,
		logger: logger.With().Str("component", "retry_manager").Logger(),
	}
}

// ExecuteWithRetry runs fn until it succeeds, returns a non-retryable error,
// or the retry budget is spent.
func (r *RetryManager) ExecuteWithRetry(
	ctx context.Context,
	operation string,
	fn func() error,
) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt+1).
					Msg("operation succeeded after retries")
			}
			return nil
		}

		lastErr = err

		if !r.config.RetryableError(err) {
			r.logger.Debug().
				Err(err).
				Str("operation", operation).
				Msg("non-retryable error encountered")
			return err
		}

		if attempt >= r.config.MaxRetries {
			break
		}

		delay := r.CalculateBackoff(attempt)
		r.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Int("max_attempts", r.config.MaxRetries+1).
			Dur("retry_in", delay).
			Msg("operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Error().
		Err(lastErr).
		Str("operation", operation).
		Int("attempts", r.config.MaxRetries+1).
		Msg("operation failed after all retries")

	return fmt.Errorf("operation %s failed after %d attempts: %w",
		operation, r.config.MaxRetries+1, lastErr)
}

// Do runs fn through the manager and returns its value.
func Do[T any](ctx context.Context, r *RetryManager, operation string, fn func() (T, error)) (T, error) {
	var out T
	err := r.ExecuteWithRetry(ctx, operation, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// CalculateBackoff calculates the delay before retry number attempt (0-based).
func (r *RetryManager) CalculateBackoff(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt))
	if delay > float64(r.config.MaxDelay) {
		return r.config.MaxDelay
	}
	return time.Duration(delay)
}
