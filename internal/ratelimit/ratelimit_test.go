package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func withClock(r *SimpleRateLimiter) *fakeClock {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r.now = clock.Now
	r.sleep = clock.Sleep
	return clock
}

func TestSimpleRateLimiterWait(t *testing.T) {
	r := NewSimpleRateLimiter(2*time.Second, 4*time.Second)
	clock := withClock(r)
	ctx := context.Background()

	require.NoError(t, r.Wait(ctx))
	assert.Empty(t, clock.sleeps, "first wait does not block")

	require.NoError(t, r.Wait(ctx))
	require.Len(t, clock.sleeps, 1)
	assert.GreaterOrEqual(t, clock.sleeps[0], 2*time.Second)
	assert.LessOrEqual(t, clock.sleeps[0], 4*time.Second)

	clock.now = clock.now.Add(10 * time.Second)
	require.NoError(t, r.Wait(ctx))
	assert.Len(t, clock.sleeps, 1, "enough time already elapsed")
}

func TestSimpleRateLimiterCancelled(t *testing.T) {
	r := NewSimpleRateLimiter(time.Second, time.Second)
	withClock(r)

	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.Canceled)
}

func TestAdaptiveRateLimiterBacksOff(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	a.RecordError()
	a.RecordError()
	min, max := a.Delays()
	assert.Equal(t, 2*time.Second, min)
	assert.Equal(t, 4*time.Second, max)

	a.RecordError()
	min, max = a.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 6*time.Second, max)
}

func TestAdaptiveRateLimiterRecovers(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	for i := 0; i < 6; i++ {
		a.RecordSuccess()
	}
	min, _ := a.Delays()
	assert.Equal(t, 1800*time.Millisecond, min)

	for i := 0; i < 60; i++ {
		a.RecordSuccess()
	}
	min, _ = a.Delays()
	assert.Equal(t, time.Second, min, "never drops below half the initial delay")
}

func TestAdaptiveRateLimiterCapsBackoff(t *testing.T) {
	a := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)

	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	min, max := a.Delays()
	assert.Equal(t, 60*time.Second, min)
	assert.Equal(t, 120*time.Second, max)
}
