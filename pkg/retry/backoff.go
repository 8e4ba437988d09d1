package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Strategy defines the interface for different backoff strategies
type Strategy interface {
	// NextDelay returns the delay before the given attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// Exponential implements exponential backoff with optional jitter
type Exponential struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay caps the computed delay; 0 means no cap
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponential returns the doubling backoff used for generic task
// failures: 1s, 2s, 4s, ...
func DefaultExponential() *Exponential {
	return &Exponential{
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.0,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (e *Exponential) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))

	if e.MaxDelay > 0 && delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}

	if e.JitterFactor > 0 {
		jitter := delay * e.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Constant implements fixed-delay backoff
type Constant struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (c *Constant) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return c.Delay
}

// Wait waits for the specified duration or until the context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
