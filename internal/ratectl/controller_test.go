package ratectl_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/ratectl"
)

func testConfig() ratectl.Config {
	return ratectl.Config{
		BaseDelay:        20 * time.Millisecond,
		MinDelay:         10 * time.Millisecond,
		MaxDelay:         100 * time.Millisecond,
		BackoffFactor:    2.0,
		DecayFactor:      0.5,
		SuccessThreshold: 3,
		JitterFraction:   0.01,
	}
}

func TestDelayBounds(t *testing.T) {
	t.Parallel()

	c := ratectl.New(testConfig())

	// Repeated throttling must never push the delay past MaxDelay.
	for i := 0; i < 20; i++ {
		c.Report(harvest.ErrorClassThrottled, false)
	}
	assert.Equal(t, 100*time.Millisecond, c.Delay())

	// Long success runs must never pull it under MinDelay.
	for i := 0; i < 60; i++ {
		c.Report(harvest.ErrorClassNone, true)
	}
	assert.Equal(t, 10*time.Millisecond, c.Delay())
}

func TestThrottleIncreasesDelay(t *testing.T) {
	t.Parallel()

	c := ratectl.New(testConfig())
	before := c.Delay()
	c.Report(harvest.ErrorClassThrottled, false)
	assert.Greater(t, c.Delay(), before)
	assert.Equal(t, 1, c.ThrottleSignals())
}

func TestTimeoutCountsAsThrottling(t *testing.T) {
	t.Parallel()

	c := ratectl.New(testConfig())
	before := c.Delay()
	c.Report(harvest.ClassifyTransport(context.DeadlineExceeded), false)
	assert.Greater(t, c.Delay(), before)
}

func TestDecayAfterConsecutiveSuccesses(t *testing.T) {
	t.Parallel()

	c := ratectl.New(testConfig())
	c.Report(harvest.ErrorClassThrottled, false) // 40ms
	require.Equal(t, 40*time.Millisecond, c.Delay())

	c.Report(harvest.ErrorClassNone, true)
	c.Report(harvest.ErrorClassNone, true)
	assert.Equal(t, 40*time.Millisecond, c.Delay(), "delay holds before the threshold run completes")

	c.Report(harvest.ErrorClassNone, true)
	assert.Equal(t, 20*time.Millisecond, c.Delay(), "third consecutive success decays one step")
	assert.Equal(t, 0, c.ThrottleSignals())
}

func TestTransientFailureResetsSuccessRun(t *testing.T) {
	t.Parallel()

	c := ratectl.New(testConfig())
	c.Report(harvest.ErrorClassThrottled, false) // 40ms

	c.Report(harvest.ErrorClassNone, true)
	c.Report(harvest.ErrorClassNone, true)
	c.Report(harvest.ErrorClassTransient, false) // resets run, no widening
	require.Equal(t, 40*time.Millisecond, c.Delay())

	c.Report(harvest.ErrorClassNone, true)
	c.Report(harvest.ErrorClassNone, true)
	assert.Equal(t, 40*time.Millisecond, c.Delay())
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second
	c := ratectl.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	// First token is free; burn it so the next wait actually blocks.
	require.NoError(t, c.Wait(context.Background()))
	err := c.Wait(ctx)
	assert.Error(t, err)
}

func TestConcurrentReports(t *testing.T) {
	t.Parallel()

	c := ratectl.New(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(throttle bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if throttle {
					c.Report(harvest.ErrorClassThrottled, false)
				} else {
					c.Report(harvest.ErrorClassNone, true)
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()

	d := c.Delay()
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.LessOrEqual(t, d, 100*time.Millisecond)
}
