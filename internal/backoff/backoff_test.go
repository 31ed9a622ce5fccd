package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterBounds(t *testing.T) {
	c := New(15 * time.Second)

	seen := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		d := c.Next(200, 0)
		assert.GreaterOrEqual(t, d, 12*time.Second)
		assert.LessOrEqual(t, d, 18*time.Second)
		seen[d] = true
	}
	// Jitter must actually vary.
	assert.Greater(t, len(seen), 1)
}

func TestThrottleEscalation(t *testing.T) {
	c := New(15 * time.Second)

	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		300 * time.Second,
		300 * time.Second, // capped
	}
	for i, w := range want {
		got := c.Next(429, 0)
		require.Equal(t, w, got, "call %d", i+1)
	}
}

func TestLockContentionEscalates(t *testing.T) {
	c := New(15 * time.Second)
	assert.Equal(t, 30*time.Second, c.Next(409, 10*time.Second))
	assert.Equal(t, 60*time.Second, c.Next(409, 10*time.Second))
}

func TestRetryAfterWinsWhenLarger(t *testing.T) {
	c := New(15 * time.Second)
	// First escalation step would be 30s; the server asked for more.
	assert.Equal(t, 90*time.Second, c.Next(429, 90*time.Second))
	// Smaller hints never shorten the computed delay.
	assert.Equal(t, 60*time.Second, c.Next(429, time.Second))
}

func TestNormalResponseResets(t *testing.T) {
	c := New(15 * time.Second)

	c.Next(429, 0)
	c.Next(429, 0)
	require.Equal(t, 2, c.Failures())

	d := c.Next(200, 0)
	assert.Equal(t, 0, c.Failures())
	assert.GreaterOrEqual(t, d, 12*time.Second)
	assert.LessOrEqual(t, d, 18*time.Second)

	// The ladder restarts from the bottom after a reset.
	assert.Equal(t, 30*time.Second, c.Next(429, 0))
}

func TestTransportErrorsShareTheLadder(t *testing.T) {
	c := New(15 * time.Second)
	assert.Equal(t, 30*time.Second, c.Next(0, 0))
	assert.Equal(t, 60*time.Second, c.Next(503, 0))
	assert.Equal(t, 120*time.Second, c.Next(500, 0))
}

func TestJitterAroundArbitraryBase(t *testing.T) {
	c := New(15 * time.Second)
	for i := 0; i < 100; i++ {
		d := c.JitterAround(120 * time.Second)
		assert.GreaterOrEqual(t, d, 96*time.Second)
		assert.LessOrEqual(t, d, 144*time.Second)
	}
}
