package metrics

import "time"

// OutcomeLabel enumerates render job outcomes for counters.
type OutcomeLabel string

const (
	OutcomePublished OutcomeLabel = "published"
	OutcomeSkipped   OutcomeLabel = "skipped"
	OutcomeFailed    OutcomeLabel = "failed"
	OutcomeStale     OutcomeLabel = "stale"
	OutcomeDropped   OutcomeLabel = "dropped"
)

// Recorder defines observability hooks for the render pipeline. All methods
// must be safe to call on the NoopRecorder, allowing optional injection.
type Recorder interface {
	ObserveRenderDuration(dashboard string, d time.Duration)
	IncRenderOutcome(dashboard string, outcome OutcomeLabel)
	IncTrigger(reason string)
	IncRetry(dashboard string)
	IncRetryExhausted(dashboard string)
	AddDegradedWidgets(dashboard string, n int)
	SetInFlight(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRenderDuration(string, time.Duration) {}
func (NoopRecorder) IncRenderOutcome(string, OutcomeLabel)       {}
func (NoopRecorder) IncTrigger(string)                           {}
func (NoopRecorder) IncRetry(string)                             {}
func (NoopRecorder) IncRetryExhausted(string)                    {}
func (NoopRecorder) AddDegradedWidgets(string, int)              {}
func (NoopRecorder) SetInFlight(int)                             {}
