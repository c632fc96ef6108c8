package metrics

import (
	"sync"
	"time"
)

// testRecorder counts calls; used to verify injection points.
type testRecorder struct {
	mu       sync.Mutex
	outcomes map[OutcomeLabel]int
	triggers map[string]int
}

func newTestRecorder() *testRecorder {
	return &testRecorder{outcomes: map[OutcomeLabel]int{}, triggers: map[string]int{}}
}

func (t *testRecorder) ObserveRenderDuration(string, time.Duration) {}
func (t *testRecorder) IncRenderOutcome(_ string, o OutcomeLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[o]++
}
func (t *testRecorder) IncTrigger(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.triggers[reason]++
}
func (t *testRecorder) IncRetry(string)                {}
func (t *testRecorder) IncRetryExhausted(string)       {}
func (t *testRecorder) AddDegradedWidgets(string, int) {}
func (t *testRecorder) SetInFlight(int)                {}

var (
	_ Recorder = (*testRecorder)(nil)
	_ Recorder = NoopRecorder{}
)
