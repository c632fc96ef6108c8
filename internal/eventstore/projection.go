// Package eventstore persists render lifecycle events and the artifact
// registry in SQLite, and projects them into per-dashboard summaries.
package eventstore

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"
)

const (
	statusPublished = "published"
	statusSkipped   = "skipped"
	statusRendering = "rendering"
	statusFailed    = "failed"
	statusRejected  = "rejected"
)

// DashboardSummary is a read model of one dashboard's render history.
type DashboardSummary struct {
	DashboardID     string    `json:"dashboard_id"`
	Status          string    `json:"status"`
	LastJobID       string    `json:"last_job_id,omitempty"`
	LastEventAt     time.Time `json:"last_event_at"`
	LastPublishedAt time.Time `json:"last_published_at,omitzero"`
	LastFingerprint string    `json:"last_fingerprint,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Published       int       `json:"published"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	Retries         int       `json:"retries"`
	Degraded        int       `json:"degraded"`
}

// DashboardHistoryProjection maintains an in-memory view of render history,
// reconstructed from events stored in the event store.
type DashboardHistoryProjection struct {
	mu         sync.RWMutex
	store      Store
	dashboards map[string]*DashboardSummary
	lastSync   time.Time
}

// NewDashboardHistoryProjection creates a new projection backed by the given store.
func NewDashboardHistoryProjection(store Store) *DashboardHistoryProjection {
	return &DashboardHistoryProjection{
		store:      store,
		dashboards: make(map[string]*DashboardSummary),
	}
}

// Rebuild reconstructs the projection from all events in the store.
// This is typically called at startup.
func (p *DashboardHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.dashboards = make(map[string]*DashboardSummary)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *DashboardHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *DashboardHistoryProjection) applyEventLocked(event Event) {
	id := event.DashboardID()
	if id == "" {
		return
	}

	summary, exists := p.dashboards[id]
	if !exists {
		summary = &DashboardSummary{DashboardID: id}
		p.dashboards[id] = summary
	}
	summary.LastEventAt = event.Timestamp()
	if event.JobID() != "" {
		summary.LastJobID = event.JobID()
	}

	switch event.Type() {
	case TypeRenderStarted:
		summary.Status = statusRendering

	case TypeRenderSkipped:
		summary.Status = statusSkipped
		summary.Skipped++

	case TypeRenderPublished:
		summary.Status = statusPublished
		summary.Published++
		summary.LastPublishedAt = event.Timestamp()
		summary.LastError = ""
		var payload RenderPublishedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.LastFingerprint = payload.Fingerprint
			if len(payload.Degraded) > 0 {
				summary.Degraded++
			}
		}

	case TypeRenderFailed:
		summary.Status = statusFailed
		summary.Failed++
		var payload RenderFailedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.LastError = payload.Error
		}

	case TypeRetryScheduled:
		summary.Retries++

	case TypeLayoutRejected:
		summary.Status = statusRejected
		var payload LayoutRejectedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.LastError = payload.Error
		}
	}
}

// Get returns a copy of the summary of a dashboard.
func (p *DashboardHistoryProjection) Get(dashboardID string) (*DashboardSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.dashboards[dashboardID]
	if !exists {
		return nil, false
	}
	cp := *summary
	return &cp, true
}

// All returns copies of every summary, sorted by dashboard ID.
func (p *DashboardHistoryProjection) All() []*DashboardSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*DashboardSummary, 0, len(p.dashboards))
	for _, id := range slices.Sorted(maps.Keys(p.dashboards)) {
		cp := *p.dashboards[id]
		out = append(out, &cp)
	}
	return out
}

// Forget drops a dashboard that is no longer configured.
func (p *DashboardHistoryProjection) Forget(dashboardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dashboards, dashboardID)
}

// LastSyncTime returns when the projection was last synchronized.
func (p *DashboardHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
