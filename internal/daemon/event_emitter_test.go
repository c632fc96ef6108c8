package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dashrender/internal/eventstore"
	"git.home.luguber.info/inful/dashrender/internal/events"
)

func newEmitter(t *testing.T) (*EventEmitter, *eventstore.SQLiteStore, *eventstore.DashboardHistoryProjection) {
	t.Helper()
	store, err := eventstore.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	proj := eventstore.NewDashboardHistoryProjection(store)
	return NewEventEmitter(store, proj), store, proj
}

func TestRecordConvertsLifecycleEvents(t *testing.T) {
	em, store, proj := newEmitter(t)
	ctx := t.Context()
	at := time.Unix(100, 0)

	require.NoError(t, em.Record(ctx, events.RenderQueued{DashboardID: "kitchen", Reason: "manual", QueuedAt: at}))
	require.NoError(t, em.Record(ctx, events.RenderStarted{DashboardID: "kitchen", JobID: "j1", Reason: "manual", Forced: true, Attempt: 0, StartedAt: at}))
	require.NoError(t, em.Record(ctx, events.RenderFailed{
		DashboardID: "kitchen", JobID: "j1", Reason: "manual", Category: "publish",
		Error: "disk full", Retry: true, RetryIn: 2 * time.Second, FailedAt: at.Add(time.Second),
	}))
	require.NoError(t, em.Record(ctx, events.ArtifactPublished{
		DashboardID: "kitchen", JobID: "j2", Reason: "retry", Attempt: 1, Path: "/www/kitchen.png",
		Fingerprint: "abc", Size: 42, Degraded: []string{"sensor.outdoor(missing)"},
		Duration: 150 * time.Millisecond, PublishedAt: at.Add(3 * time.Second),
	}))

	stored, err := store.GetByDashboard(ctx, "kitchen", 10)
	require.NoError(t, err)
	types := make([]string, 0, len(stored))
	for _, e := range stored {
		types = append(types, e.Type())
	}
	require.Equal(t, []string{
		eventstore.TypeRenderStarted,
		eventstore.TypeRenderFailed,
		eventstore.TypeRetryScheduled,
		eventstore.TypeRenderPublished,
	}, types)

	s, ok := proj.Get("kitchen")
	require.True(t, ok)
	require.Equal(t, "published", s.Status)
	require.Equal(t, 1, s.Published)
	require.Equal(t, 1, s.Failed)
	require.Equal(t, 1, s.Retries)
	require.Equal(t, 1, s.Degraded)
	require.Equal(t, "abc", s.LastFingerprint)
}

func TestConsumeDrainsUntilClosed(t *testing.T) {
	em, store, _ := newEmitter(t)
	bus := events.NewBus()
	ch, _ := events.Subscribe[events.Lifecycle](bus, 8)
	em.Consume(t.Context(), ch)

	_, err := bus.Publish(t.Context(), events.RenderSkipped{DashboardID: "hall", JobID: "j1", Reason: "stale", Fingerprint: "f", SkippedAt: time.Unix(5, 0)})
	require.NoError(t, err)
	bus.Close()
	em.Wait()

	stored, err := store.GetByDashboard(t.Context(), "hall", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, eventstore.TypeRenderSkipped, stored[0].Type())
}

func TestEmitLayoutRejected(t *testing.T) {
	em, _, proj := newEmitter(t)
	require.NoError(t, em.EmitLayoutRejected(t.Context(), "/layouts/hall.yaml", errTest("bad widget"), time.Unix(1, 0)))

	s, ok := proj.Get("hall")
	require.True(t, ok)
	require.Equal(t, "rejected", s.Status)
	require.Equal(t, "bad widget", s.LastError)
}

type errTest string

func (e errTest) Error() string { return string(e) }
