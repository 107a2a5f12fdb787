// Package retry computes backoff delays for reconnecting to peers.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Mode selects how delays grow between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Unlimited as MaxRetries means retry forever.
const Unlimited = -1

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       Mode          // fixed|linear|exponential
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	Factor     float64       // growth per attempt in exponential mode
	MaxRetries int           // retries after the first failure; Unlimited for no limit
}

// DefaultPolicy returns a sensible default policy (linear, 1s initial, 30s cap, 2 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: ModeLinear, Initial: time.Second, Max: 30 * time.Second, Factor: 2, MaxRetries: 2}
}

// ReconnectPolicy is the schedule build agents use to reach a results
// server: 1s, growing by 1.3 per failure, capped at one hour, forever.
func ReconnectPolicy() Policy {
	return Policy{Mode: ModeExponential, Initial: time.Second, Max: time.Hour, Factor: 1.3, MaxRetries: Unlimited}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode Mode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= Unlimited {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	default:
		// unknown -> keep default
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// WithFactor returns a copy using factor for exponential growth.
func (p Policy) WithFactor(factor float64) Policy {
	if factor > 1 {
		p.Factor = factor
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case ModeFixed:
		return p.Initial
	case ModeExponential:
		factor := p.Factor
		if factor <= 1 {
			factor = 2
		}
		d := float64(p.Initial) * math.Pow(factor, float64(retryCount-1))
		if d >= float64(p.Max) || math.IsInf(d, 0) {
			return p.Max
		}
		return time.Duration(d)
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max || d < 0 {
			return p.Max
		}
		return d
	}
}

// Allows reports whether retry attempt retryCount (1-based) is permitted.
func (p Policy) Allows(retryCount int) bool {
	return p.MaxRetries == Unlimited || retryCount <= p.MaxRetries
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < Unlimited {
		return fmt.Errorf("max retries cannot be negative")
	}
	if p.Mode == ModeExponential && p.Factor <= 1 {
		return fmt.Errorf("exponential factor must be >1")
	}
	return nil
}

// Backoff tracks attempts against a Policy. The zero attempt count means
// the last attempt succeeded.
type Backoff struct {
	policy  Policy
	attempt int
}

// NewBackoff returns a Backoff following p.
func NewBackoff(p Policy) *Backoff { return &Backoff{policy: p} }

// Next records a failure and returns the delay before the next attempt and
// whether another attempt is allowed.
func (b *Backoff) Next() (time.Duration, bool) {
	b.attempt++
	return b.policy.Delay(b.attempt), b.policy.Allows(b.attempt)
}

// Reset forgets previous failures.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt returns the number of consecutive failures recorded.
func (b *Backoff) Attempt() int { return b.attempt }
