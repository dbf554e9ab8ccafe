// Package ratectl implements the shared adaptive rate budget for the whole
// worker pool. A single controller spaces every network call the pipeline
// makes; workers never back off independently, so the effective ceiling
// stays at one budget regardless of pool size.
package ratectl

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/metrics"
)

// Config bounds the adaptive delay.
type Config struct {
	// BaseDelay is the starting inter-request delay.
	BaseDelay time.Duration
	// MinDelay and MaxDelay clamp every adjustment.
	MinDelay time.Duration
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay on a throttling signal.
	BackoffFactor float64
	// DecayFactor multiplies the delay after SuccessThreshold consecutive
	// non-throttled successes.
	DecayFactor float64
	// SuccessThreshold is the run length of successes required before the
	// delay decays one step.
	SuccessThreshold int
	// JitterFraction adds up to this fraction of the delay as random jitter
	// on each wait.
	JitterFraction float64
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 300 * time.Millisecond
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 1.5
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = 0.9
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
}

// Controller is the process-wide rate state. Safe for concurrent use.
type Controller struct {
	cfg Config

	mu            sync.Mutex
	delay         time.Duration
	consecutiveOK int
	throttleCount int

	limiter *rate.Limiter
}

// New builds a Controller seeded at BaseDelay, clamped into [MinDelay, MaxDelay].
func New(cfg Config) *Controller {
	cfg.applyDefaults()
	delay := clamp(cfg.BaseDelay, cfg.MinDelay, cfg.MaxDelay)
	c := &Controller{
		cfg:     cfg,
		delay:   delay,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
	metrics.SetRateDelay(delay)
	return c
}

// Wait blocks the caller until the shared budget admits one call, then adds
// a small jitter. Returns the context error if ctx finishes first. The wait
// is always bounded: the underlying interval never exceeds MaxDelay.
func (c *Controller) Wait(ctx context.Context) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}
	if j := c.jitter(); j > 0 {
		t := time.NewTimer(j)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate wait: %w", ctx.Err())
		case <-t.C:
		}
	}
	metrics.ObserveRateWait(time.Since(start))
	return nil
}

// Report feeds one call outcome back into the shared state. Throttling
// signals widen the delay by BackoffFactor up to MaxDelay; a run of
// SuccessThreshold consecutive successes decays it by DecayFactor down to
// MinDelay. Non-throttling failures reset the success run without widening.
func (c *Controller) Report(class harvest.ErrorClass, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !ok && class.Throttling():
		c.throttleCount++
		c.consecutiveOK = 0
		c.setDelayLocked(scale(c.delay, c.cfg.BackoffFactor))
	case !ok:
		c.consecutiveOK = 0
	default:
		c.consecutiveOK++
		if c.consecutiveOK >= c.cfg.SuccessThreshold {
			c.consecutiveOK = 0
			if c.throttleCount > 0 {
				c.throttleCount--
			}
			c.setDelayLocked(scale(c.delay, c.cfg.DecayFactor))
		}
	}
}

// Delay returns the current inter-request delay.
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// ThrottleSignals returns the rolling count of unresolved throttle signals.
func (c *Controller) ThrottleSignals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttleCount
}

func (c *Controller) setDelayLocked(d time.Duration) {
	d = clamp(d, c.cfg.MinDelay, c.cfg.MaxDelay)
	if d == c.delay {
		return
	}
	c.delay = d
	c.limiter.SetLimit(rate.Every(d))
	metrics.SetRateDelay(d)
}

func (c *Controller) jitter() time.Duration {
	c.mu.Lock()
	limit := time.Duration(float64(c.delay) * c.cfg.JitterFraction)
	c.mu.Unlock()
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
