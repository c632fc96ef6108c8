package retry

import (
	"testing"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/config"
)

// TestDefaultPolicy verifies the baseline default values.
func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != config.RetryBackoffExponential {
		t.Fatalf("expected exponential default mode got %s", p.Mode)
	}
	if p.MaxRetries != 0 {
		t.Fatalf("expected unbounded retries got %d", p.MaxRetries)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

// TestNewPolicyOverrides checks override precedence and clamping when initial > max.
func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(config.RetryConfig{
		Backoff:      config.RetryBackoffFixed,
		InitialDelay: 5 * time.Second,
		MaxDelay:     2 * time.Second,
		MaxRetries:   5,
	})
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Mode != config.RetryBackoffFixed {
		t.Fatalf("expected fixed mode got %s", p.Mode)
	}
	if p.MaxRetries != 5 {
		t.Fatalf("expected maxRetries 5 got %d", p.MaxRetries)
	}
}

// TestNewPolicyJitter checks an explicit zero disables jitter while unset keeps the default.
func TestNewPolicyJitter(t *testing.T) {
	zero := 0.0
	if p := NewPolicy(config.RetryConfig{Jitter: &zero}); p.Jitter != 0 {
		t.Fatalf("expected jitter disabled got %v", p.Jitter)
	}
	if p := NewPolicy(config.RetryConfig{}); p.Jitter != config.DefaultRetryJitter {
		t.Fatalf("expected default jitter got %v", p.Jitter)
	}
	p := NewPolicy(config.RetryConfig{Backoff: config.RetryBackoffFixed, InitialDelay: time.Second, MaxDelay: time.Minute, Jitter: &zero})
	for i := 1; i <= 5; i++ {
		if got := p.Delay(i); got != time.Second {
			t.Fatalf("retry %d expected exact 1s got %v", i, got)
		}
	}
}

// TestBaseDelayModes ensures fixed, linear, exponential behave and respect cap.
func TestBaseDelayModes(t *testing.T) {
	ms := time.Millisecond
	cases := []struct {
		mode    config.RetryBackoffMode
		initial time.Duration
		max     time.Duration
		want    []time.Duration
	}{
		{config.RetryBackoffFixed, 100 * ms, 500 * ms, []time.Duration{100 * ms, 100 * ms, 100 * ms}},
		{config.RetryBackoffLinear, 100 * ms, 250 * ms, []time.Duration{100 * ms, 200 * ms, 250 * ms, 250 * ms}},
		{config.RetryBackoffExponential, 50 * ms, 160 * ms, []time.Duration{50 * ms, 100 * ms, 160 * ms, 160 * ms}},
	}
	for _, c := range cases {
		p := Policy{Mode: c.mode, Initial: c.initial, Max: c.max}
		for i, want := range c.want {
			if got := p.BaseDelay(i + 1); got != want {
				t.Fatalf("%s retry %d expected %v got %v", c.mode, i+1, want, got)
			}
		}
	}
}

// TestExponentialDoesNotOverflow guards the doubling loop against huge retry counts.
func TestExponentialDoesNotOverflow(t *testing.T) {
	p := Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: time.Minute}
	if got := p.BaseDelay(500); got != time.Minute {
		t.Fatalf("expected cap 1m got %v", got)
	}
}

// TestJitterBounds checks the jittered delay stays within +/- jitter and under Max.
func TestJitterBounds(t *testing.T) {
	base := Policy{Mode: config.RetryBackoffFixed, Initial: time.Second, Max: 10 * time.Second, Jitter: 0.25}

	if got := base.WithRand(func() float64 { return 0 }).Delay(1); got != 750*time.Millisecond {
		t.Fatalf("low jitter expected 750ms got %v", got)
	}
	if got := base.WithRand(func() float64 { return 0.5 }).Delay(1); got != time.Second {
		t.Fatalf("mid jitter expected 1s got %v", got)
	}

	capped := Policy{Mode: config.RetryBackoffFixed, Initial: time.Second, Max: time.Second, Jitter: 0.5}
	if got := capped.WithRand(func() float64 { return 0.99 }).Delay(1); got != time.Second {
		t.Fatalf("jitter must not exceed max, got %v", got)
	}
}

func TestExhausted(t *testing.T) {
	unbounded := Policy{MaxRetries: 0}
	if unbounded.Exhausted(1000) {
		t.Fatal("unbounded policy must never be exhausted")
	}
	bounded := Policy{MaxRetries: 2}
	if bounded.Exhausted(2) || !bounded.Exhausted(3) {
		t.Fatal("bounded policy allows exactly MaxRetries retries")
	}
}

func TestDelayEdgeCases(t *testing.T) {
	p := DefaultPolicy()
	if d := p.Delay(0); d != 0 {
		t.Fatalf("retry 0 expected 0 got %v", d)
	}
	if d := p.Delay(-1); d != 0 {
		t.Fatalf("retry -1 expected 0 got %v", d)
	}
}
