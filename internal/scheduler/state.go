package scheduler

import (
	"sync"
	"time"
)

// State is the position of a dashboard in the render cycle.
type State string

const (
	StateIdle      State = "IDLE"
	StateQueued    State = "QUEUED"
	StateRendering State = "RENDERING"
	StateFailed    State = "FAILED"
)

// Reason names what triggered a render.
type Reason string

const (
	ReasonStateChange Reason = "state_change"
	ReasonStale       Reason = "stale"
	ReasonManual      Reason = "manual"
	ReasonLayout      Reason = "layout_changed"
	ReasonStartup     Reason = "startup"
	ReasonRetry       Reason = "retry"
)

// Status is a point-in-time view of one dashboard's state machine.
type Status struct {
	DashboardID string    `json:"dashboard_id"`
	State       State     `json:"state"`
	Pending     bool      `json:"pending"`
	Attempt     int       `json:"attempt"`
	LastReason  Reason    `json:"last_reason,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastRun     time.Time `json:"last_run,omitzero"`
	NextRetry   time.Time `json:"next_retry,omitzero"`
}

// dashboard is the per-ID state machine. Every field is guarded by mu; no
// other dashboard's lock is ever held at the same time.
type dashboard struct {
	id string

	mu       sync.Mutex
	state    State
	pending  bool   // trigger arrived while RENDERING or FAILED
	reason   Reason // latest trigger reason, consumed at pick-up
	force    bool   // OR of forced triggers since the last pick-up
	failures int    // consecutive failed attempts
	timer    *time.Timer
	removed  bool

	lastReason Reason
	lastErr    string
	lastRun    time.Time
	nextRetry  time.Time
}

func (d *dashboard) status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		DashboardID: d.id,
		State:       d.state,
		Pending:     d.pending,
		Attempt:     d.failures,
		LastReason:  d.lastReason,
		LastError:   d.lastErr,
		LastRun:     d.lastRun,
		NextRetry:   d.nextRetry,
	}
}

// stopTimerLocked cancels a scheduled retry.
func (d *dashboard) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.nextRetry = time.Time{}
}
