// Package retry computes backoff delays for failed render jobs.
package retry

import (
	"fmt"
	"math/rand/v2"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth, jitter included
	MaxRetries int                     // retries after the first failure; 0 means unbounded
	Jitter     float64                 // +/- fraction of each delay

	// rand returns a value in [0, 1). Tests replace it for repeatable delays.
	rand func() float64
}

// DefaultPolicy returns exponential backoff from 2s up to 2m with 20% jitter and no retry limit.
func DefaultPolicy() Policy {
	return Policy{
		Mode:    config.RetryBackoffExponential,
		Initial: config.DefaultRetryInitialDelay,
		Max:     config.DefaultRetryMaxDelay,
		Jitter:  config.DefaultRetryJitter,
	}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		p.Initial = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.Max = cfg.MaxDelay
	}
	switch cfg.Backoff {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = cfg.Backoff
	}
	if j := cfg.JitterFraction(); j >= 0 && j < 1 {
		p.Jitter = j
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// WithRand returns a copy of p drawing jitter from fn.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// Exhausted reports whether retryCount retries have used up the budget.
func (p Policy) Exhausted(retryCount int) bool {
	return p.MaxRetries > 0 && retryCount > p.MaxRetries
}

// BaseDelay returns the un-jittered delay for the given retry (1-based: first retry => 1).
func (p Policy) BaseDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d := p.Initial
		for i := 1; i < retryCount; i++ {
			d *= 2
			if d >= p.Max || d <= 0 {
				return p.Max
			}
		}
		return min(d, p.Max)
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	}
}

// Delay returns the jittered delay for the given retry, never above Max.
func (p Policy) Delay(retryCount int) time.Duration {
	base := p.BaseDelay(retryCount)
	if base <= 0 || p.Jitter <= 0 {
		return base
	}
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	// Scale into [1-j, 1+j).
	factor := 1 + p.Jitter*(2*r()-1)
	d := time.Duration(float64(base) * factor)
	if d > p.Max {
		d = p.Max
	}
	if d <= 0 {
		d = base
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}
	return nil
}
