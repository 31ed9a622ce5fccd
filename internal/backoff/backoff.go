// Package backoff computes inter-poll delays. It never sleeps; the engine
// waits out whatever it returns.
package backoff

import (
	"math/rand"
	"net/http"
	"time"
)

const (
	// DefaultJitter spreads polls ±20% around the base interval so
	// independent runs don't synchronize and the timing stays
	// non-mechanical.
	DefaultJitter = 0.20

	// Escalation ladder on throttle/lock signals: 30s, 60s, 120s, 240s,
	// capped at MaxDelay.
	escalationBase = 30 * time.Second
	MaxDelay       = 300 * time.Second
)

// Controller owns the backoff state for a single target. Mutated by exactly
// one caller; no locking.
type Controller struct {
	base     time.Duration
	jitter   float64
	max      time.Duration
	failures int
	rng      *rand.Rand
}

func New(base time.Duration) *Controller {
	return &Controller{
		base:   base,
		jitter: DefaultJitter,
		max:    MaxDelay,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the following poll attempt. status is the
// HTTP status of the last exchange, or 0 for a transport-level failure.
// retryAfter is the server's Retry-After hint (0 if absent); when it
// exceeds the computed delay, the server wins.
//
// 429 (rate limit) and 409 (lock contention) walk the exponential ladder.
// Transport failures and 5xx share the failure counter so repeated trouble
// also slows the loop down. Any other response resets to jittered-base.
func (c *Controller) Next(status int, retryAfter time.Duration) time.Duration {
	if failureStatus(status) {
		c.failures++
		d := c.max
		if c.failures <= 4 {
			d = escalationBase << (c.failures - 1)
		}
		if retryAfter > d {
			d = retryAfter
		}
		return d
	}

	c.failures = 0
	return c.JitterAround(c.base)
}

func failureStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests, status == http.StatusConflict:
		return true
	case status >= 500:
		return true
	}
	return false
}

// JitterAround draws a uniform value in [base*(1-jitter), base*(1+jitter)],
// independently each call. Also used for the inactive-marketplace wait.
func (c *Controller) JitterAround(base time.Duration) time.Duration {
	spread := 2*c.rng.Float64() - 1 // [-1, 1)
	return base + time.Duration(float64(base)*c.jitter*spread)
}

// Failures reports the consecutive failure count, for logging.
func (c *Controller) Failures() int { return c.failures }

// Reset returns the controller to jittered-base mode.
func (c *Controller) Reset() { c.failures = 0 }
