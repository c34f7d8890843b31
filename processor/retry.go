package processor

import (
	"context"
	"fmt"
	"math"
	"time"

	"ch-ferry/config"
)

// RetryPolicy bounds how many failed batches a table tolerates and how long to wait before
// retrying the same window.
type RetryPolicy struct {
	MaxErrors    int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NewRetryPolicy builds the policy from the [sync] section.
func NewRetryPolicy(cfg config.SyncConfig) RetryPolicy {
	maxErrors := cfg.MaxBatchErrors
	if maxErrors <= 0 {
		maxErrors = config.DefaultMaxBatchErrors
	}
	return RetryPolicy{
		MaxErrors:    maxErrors,
		InitialDelay: cfg.RetryBackoff,
		MaxDelay:     cfg.RetryMaxBackoff,
		Multiplier:   2.0,
	}
}

// Allow reports whether a table with errorCount failed batches may keep going.
func (rp RetryPolicy) Allow(errorCount int) bool {
	return errorCount <= rp.MaxErrors
}

// Delay returns the wait before retry number attempt (starting at 1).
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	if rp.InitialDelay <= 0 || attempt <= 0 {
		return 0
	}
	multiplier := rp.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (rp RetryPolicy) Wait(ctx context.Context, attempt int) error {
	delay := rp.Delay(attempt)
	if delay == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
