package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

// Event type names.
const (
	TypeRenderStarted   = "RenderStarted"
	TypeRenderSkipped   = "RenderSkipped"
	TypeRenderPublished = "RenderPublished"
	TypeRenderFailed    = "RenderFailed"
	TypeRetryScheduled  = "RetryScheduled"
	TypeLayoutRejected  = "LayoutRejected"
)

func newEvent(dashboardID, jobID, eventType string, at time.Time, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal "+eventType+" payload").
			WithCause(err).
			WithContext("dashboard_id", dashboardID).
			Build()
	}
	return &BaseEvent{
		EventDashboardID: dashboardID,
		EventJobID:       jobID,
		EventType:        eventType,
		EventTimestamp:   at,
		EventPayload:     data,
	}, nil
}

// RenderStartedPayload is recorded when a worker picks up a job.
type RenderStartedPayload struct {
	Trigger string `json:"trigger"`
	Attempt int    `json:"attempt"`
	Forced  bool   `json:"forced,omitempty"`
}

// NewRenderStarted creates a RenderStarted event.
func NewRenderStarted(dashboardID, jobID string, at time.Time, p RenderStartedPayload) (Event, error) {
	return newEvent(dashboardID, jobID, TypeRenderStarted, at, p)
}

// RenderSkippedPayload is recorded when the change detector short-circuits a job.
type RenderSkippedPayload struct {
	Trigger     string `json:"trigger"`
	Fingerprint string `json:"fingerprint"`
}

// NewRenderSkipped creates a RenderSkipped event.
func NewRenderSkipped(dashboardID, jobID string, at time.Time, p RenderSkippedPayload) (Event, error) {
	return newEvent(dashboardID, jobID, TypeRenderSkipped, at, p)
}

// RenderPublishedPayload is recorded after a successful commit.
type RenderPublishedPayload struct {
	Trigger     string   `json:"trigger"`
	Attempt     int      `json:"attempt"`
	Fingerprint string   `json:"fingerprint"`
	Path        string   `json:"path"`
	Size        int64    `json:"size"`
	DurationMS  int64    `json:"duration_ms"`
	Degraded    []string `json:"degraded,omitempty"`
}

// NewRenderPublished creates a RenderPublished event.
func NewRenderPublished(dashboardID, jobID string, at time.Time, p RenderPublishedPayload) (Event, error) {
	return newEvent(dashboardID, jobID, TypeRenderPublished, at, p)
}

// RenderFailedPayload is recorded when a job fails.
type RenderFailedPayload struct {
	Trigger   string `json:"trigger"`
	Attempt   int    `json:"attempt"`
	Category  string `json:"category"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// NewRenderFailed creates a RenderFailed event.
func NewRenderFailed(dashboardID, jobID string, at time.Time, p RenderFailedPayload) (Event, error) {
	return newEvent(dashboardID, jobID, TypeRenderFailed, at, p)
}

// RetryScheduledPayload is recorded when a failed job is scheduled again.
type RetryScheduledPayload struct {
	Attempt int   `json:"attempt"`
	DelayMS int64 `json:"delay_ms"`
}

// NewRetryScheduled creates a RetryScheduled event.
func NewRetryScheduled(dashboardID, jobID string, at time.Time, p RetryScheduledPayload) (Event, error) {
	return newEvent(dashboardID, jobID, TypeRetryScheduled, at, p)
}

// LayoutRejectedPayload is recorded when a layout document fails validation.
type LayoutRejectedPayload struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// NewLayoutRejected creates a LayoutRejected event.
func NewLayoutRejected(dashboardID string, at time.Time, p LayoutRejectedPayload) (Event, error) {
	return newEvent(dashboardID, "", TypeLayoutRejected, at, p)
}
