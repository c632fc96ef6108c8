package events

import "time"

// Lifecycle is implemented by every render lifecycle event, so a listener can
// subscribe to all of them at once.
type Lifecycle interface {
	Dashboard() string
	At() time.Time
}

// RenderQueued is emitted when a trigger moves an idle dashboard to QUEUED.
type RenderQueued struct {
	DashboardID string
	Reason      string
	Forced      bool
	QueuedAt    time.Time
}

// RenderStarted is emitted when a worker picks a dashboard up.
type RenderStarted struct {
	DashboardID string
	JobID       string
	Reason      string
	Forced      bool
	Attempt     int
	StartedAt   time.Time
}

// RenderSkipped is emitted when the fingerprint matches the last commit.
type RenderSkipped struct {
	DashboardID string
	JobID       string
	Reason      string
	Fingerprint string
	SkippedAt   time.Time
}

// ArtifactPublished is emitted after a new image replaced the previous one.
// Displays use it to refresh. Degraded lists placeholder substitutions as
// "entity(reason)".
type ArtifactPublished struct {
	DashboardID string
	JobID       string
	Reason      string
	Attempt     int
	Path        string
	Fingerprint string
	ContentHash string
	Size        int64
	Degraded    []string
	Duration    time.Duration
	PublishedAt time.Time
}

// RenderFailed is emitted when a job failed; Retry tells whether another
// attempt is scheduled.
type RenderFailed struct {
	DashboardID string
	JobID       string
	Reason      string
	Attempt     int
	Category    string
	Error       string
	Retry       bool
	RetryIn     time.Duration
	FailedAt    time.Time
}

func (e RenderQueued) Dashboard() string      { return e.DashboardID }
func (e RenderQueued) At() time.Time          { return e.QueuedAt }
func (e RenderStarted) Dashboard() string     { return e.DashboardID }
func (e RenderStarted) At() time.Time         { return e.StartedAt }
func (e RenderSkipped) Dashboard() string     { return e.DashboardID }
func (e RenderSkipped) At() time.Time         { return e.SkippedAt }
func (e ArtifactPublished) Dashboard() string { return e.DashboardID }
func (e ArtifactPublished) At() time.Time     { return e.PublishedAt }
func (e RenderFailed) Dashboard() string      { return e.DashboardID }
func (e RenderFailed) At() time.Time          { return e.FailedAt }
