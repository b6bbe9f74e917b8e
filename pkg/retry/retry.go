package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration for one-shot operations such as archive uploads.
type Config struct {
	MaxAttempts        int           // total attempts, including the first
	InitialDelay       time.Duration // delay before the second attempt
	MaxDelay           time.Duration // cap on any single delay
	Multiplier         float64       // exponential growth factor
	Jitter             bool          // +/-25% random variation
	NonRetryableErrors []error       // errors that stop retrying immediately
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done.
func Retry(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isNonRetryable(err, cfg.NonRetryableErrors) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(calculateDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", attempts, lastErr)
}

// calculateDelay returns initialDelay * multiplier^attempt, capped at MaxDelay.
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	duration := time.Duration(delay)
	if cfg.Jitter {
		spread := duration / 4
		duration = duration - spread + time.Duration(rand.Float64()*float64(2*spread))
	}
	return duration
}

func isNonRetryable(err error, nonRetryableErrors []error) bool {
	for _, target := range nonRetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
