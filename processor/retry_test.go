package processor

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"ch-ferry/config"
)

func TestRetryPolicyAllow(t *testing.T) {
	rp := NewRetryPolicy(config.SyncConfig{})
	assert.Equal(t, config.DefaultMaxBatchErrors, rp.MaxErrors)

	for i := 0; i <= 5; i++ {
		assert.True(t, rp.Allow(i), "error count %d", i)
	}
	assert.False(t, rp.Allow(6))
}

func TestRetryPolicyDelay(t *testing.T) {
	rp := RetryPolicy{MaxErrors: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, time.Duration(0), rp.Delay(0))
	assert.Equal(t, 100*time.Millisecond, rp.Delay(1))
	assert.Equal(t, 200*time.Millisecond, rp.Delay(2))
	assert.Equal(t, 800*time.Millisecond, rp.Delay(4))
	assert.Equal(t, time.Second, rp.Delay(5))
	assert.Equal(t, time.Second, rp.Delay(500))

	assert.Zero(t, RetryPolicy{MaxErrors: 5}.Delay(3), "no backoff configured means immediate retry")
}

func TestRetryPolicyWaitCancelled(t *testing.T) {
	rp := RetryPolicy{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rp.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, RetryPolicy{}.Wait(context.Background(), 1))
}

func TestProperty_RetryDelayBounded(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("delay never exceeds the cap and never shrinks", prop.ForAll(
		func(initialMs, maxMs int64, attempt int) bool {
			rp := RetryPolicy{
				InitialDelay: time.Duration(initialMs) * time.Millisecond,
				MaxDelay:     time.Duration(maxMs) * time.Millisecond,
				Multiplier:   2,
			}
			d := rp.Delay(attempt)
			if d < 0 || d > rp.MaxDelay {
				return false
			}
			return rp.Delay(attempt+1) >= d
		},
		gen.Int64Range(1, 1000),
		gen.Int64Range(1000, 60000),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}
