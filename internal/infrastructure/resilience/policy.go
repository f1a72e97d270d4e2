// Package resilience wraps outbound calls to the model runtime, the
// vector stores and the message queue with bounded retries and one
// circuit breaker per named operation.
package resilience

import (
	"log/slog"
	"time"
)

// Config tunes the retry schedule and the breaker thresholds shared by
// every operation routed through an Executor.
type Config struct {
	MaxAttempts int           // total tries including the first
	BaseDelay   time.Duration // pause before the second attempt
	MaxDelay    time.Duration // cap on the growing pause
	DelayFactor float64       // growth between consecutive pauses

	BreakerMinSamples uint32        // calls observed before the failure ratio is trusted
	BreakerFailRatio  float64       // failure share that opens the breaker
	BreakerCooldown   time.Duration // how long an open breaker rejects calls
	BreakerProbes     uint32        // calls let through while half-open

	Logger *slog.Logger // optional, retries are logged at debug level
}

// DefaultConfig is tuned for local model runtimes: short pauses, a
// breaker that opens at half the calls failing and probes again after
// thirty seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          400 * time.Millisecond,
		DelayFactor:       2,
		BreakerMinSamples: 10,
		BreakerFailRatio:  0.5,
		BreakerCooldown:   30 * time.Second,
		BreakerProbes:     2,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.DelayFactor < 1 {
		c.DelayFactor = def.DelayFactor
	}
	if c.BreakerMinSamples == 0 {
		c.BreakerMinSamples = def.BreakerMinSamples
	}
	if c.BreakerFailRatio <= 0 || c.BreakerFailRatio > 1 {
		c.BreakerFailRatio = def.BreakerFailRatio
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.BreakerProbes == 0 {
		c.BreakerProbes = def.BreakerProbes
	}
}
