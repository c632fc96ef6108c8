package eventstore

import (
	"context"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/publish"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, e Event) error

	// GetByDashboard retrieves the most recent events of a dashboard, oldest first.
	GetByDashboard(ctx context.Context, dashboardID string, limit int) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Close closes the store and releases resources.
	Close() error
}

// ArtifactStore persists the last published artifact of every dashboard.
type ArtifactStore interface {
	publish.Registry

	// Artifacts returns every recorded artifact, sorted by dashboard ID.
	Artifacts(ctx context.Context) ([]publish.Artifact, error)
}
