package config

import (
	"time"

	"git.home.luguber.info/inful/dashrender/internal/foundation/normalization"
)

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffNormalizer = normalization.NewNormalizer(map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
}, RetryBackoffExponential)

// RetryConfig configures backoff for failed render jobs.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay time.Duration    `yaml:"initial_delay"`
	MaxDelay     time.Duration    `yaml:"max_delay"`
	// MaxRetries bounds consecutive retries of one dashboard; 0 retries until success.
	MaxRetries int `yaml:"max_retries"`
	// Jitter is the +/- fraction applied to each delay (0.2 = up to 20%).
	// Unset means DefaultRetryJitter; an explicit 0 disables jitter.
	Jitter *float64 `yaml:"jitter,omitempty"`
}

// JitterFraction returns the configured jitter, or the default when unset.
func (r RetryConfig) JitterFraction() float64 {
	if r.Jitter == nil {
		return DefaultRetryJitter
	}
	return *r.Jitter
}
