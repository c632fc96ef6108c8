package scheduler

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/events"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
	"git.home.luguber.info/inful/dashrender/internal/publish"
	"git.home.luguber.info/inful/dashrender/internal/render"
	"git.home.luguber.info/inful/dashrender/internal/retry"
)

const waitTimeout = 5 * time.Second

// gatedRenderer counts renders and optionally blocks each one until gate is closed.
type gatedRenderer struct {
	inner   *render.Renderer
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int32
}

func (r *gatedRenderer) Render(l *layout.Layout, snap entity.Snapshot) (render.Result, error) {
	r.calls.Add(1)
	select {
	case r.started <- struct{}{}:
	default:
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.inner.Render(l, snap)
}

// flakyCommitter fails the first failures commits with an I/O error.
type flakyCommitter struct {
	inner     *publish.Publisher
	failures  atomic.Int32
	attempts  atomic.Int32
	successes atomic.Int32
}

func (c *flakyCommitter) Commit(ctx context.Context, pl publish.Payload) (publish.Artifact, error) {
	c.attempts.Add(1)
	if c.failures.Add(-1) >= 0 {
		return publish.Artifact{}, errors.PublishFailure("failed to publish artifact").
			WithCause(stderrors.New("simulated disk fault")).
			Build()
	}
	a, err := c.inner.Commit(ctx, pl)
	if err == nil {
		c.successes.Add(1)
	}
	return a, err
}

// blockingSource never answers before ctx is done.
type blockingSource struct{}

func (blockingSource) CurrentSnapshot(ctx context.Context, _ []string) (entity.Snapshot, error) {
	<-ctx.Done()
	return entity.Snapshot{}, ctx.Err()
}

func (blockingSource) Subscribe(context.Context, []string, func(entity.Change)) (entity.Subscription, error) {
	return entity.SubscriptionFunc(func() error { return nil }), nil
}

type harness struct {
	store     *layout.Store
	source    *entity.MemorySource
	renderer  *gatedRenderer
	committer *flakyCommitter
	publisher *publish.Publisher
	table     *detect.Table
	sched     *Scheduler
	events    chan events.Lifecycle
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	source entity.Source
	gate   chan struct{}
	opts   []Option
}

func withSource(src entity.Source) harnessOption {
	return func(c *harnessConfig) { c.source = src }
}

func withGate(gate chan struct{}) harnessOption {
	return func(c *harnessConfig) { c.gate = gate }
}

func withOptions(opts ...Option) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func fastRetry(maxRetries int) retry.Policy {
	return retry.NewPolicy(config.RetryConfig{
		Backoff:      config.RetryBackoffFixed,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		MaxRetries:   maxRetries,
	})
}

func newHarness(t *testing.T, hopts ...harnessOption) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, o := range hopts {
		o(&cfg)
	}

	h := &harness{
		store:  layout.NewStore(),
		source: entity.NewMemorySource(),
		table:  detect.NewTable(),
		events: make(chan events.Lifecycle, 256),
	}
	var src entity.Source = h.source
	if cfg.source != nil {
		src = cfg.source
	}

	_, err := h.store.Put(&layout.Layout{
		ID:    "l1",
		Title: "Living room",
		Size:  layout.Size{Width: 240, Height: 160},
		Widgets: []layout.Widget{
			{Type: layout.WidgetSensor, Title: "Temperature", Entity: "temp.sensor", Unit: "°C"},
		},
	})
	require.NoError(t, err)

	h.publisher, err = publish.New(filepath.Join(t.TempDir(), "out"), h.table)
	require.NoError(t, err)
	h.committer = &flakyCommitter{inner: h.publisher}
	h.renderer = &gatedRenderer{inner: render.New(), gate: cfg.gate, started: make(chan struct{}, 16)}

	opts := append([]Option{
		WithWorkers(2),
		WithSnapshotTimeout(time.Second),
		WithRetryPolicy(fastRetry(5)),
		WithObserver(ObserverFunc(func(evt events.Lifecycle) { h.events <- evt })),
	}, cfg.opts...)
	h.sched, err = New(h.store, src, h.renderer, h.committer, detect.New(h.table), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.sched.Stop(ctx)
	})
	return h
}

// waitFor drains lifecycle events until one of type T arrives.
func waitFor[T events.Lifecycle](t *testing.T, ch <-chan events.Lifecycle) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-ch:
			if v, ok := evt.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitIdle(t *testing.T, s *Scheduler, id string) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st, _ = s.Status(id)
		return st.State == StateIdle && !st.Pending
	}, waitTimeout, 5*time.Millisecond)
	return st
}

func TestEndToEndReplacesArtifact(t *testing.T) {
	h := newHarness(t)
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	first := waitFor[events.ArtifactPublished](t, h.events)
	require.Equal(t, filepath.Join(h.publisher.Dir(), "l1.png"), first.Path)
	f1, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	waitIdle(t, h.sched, "l1")

	h.source.Set("temp.sensor", entity.Number(23.5))
	require.NoError(t, h.sched.Trigger("l1", ReasonStateChange))
	second := waitFor[events.ArtifactPublished](t, h.events)
	require.Equal(t, first.Path, second.Path)
	require.NotEqual(t, first.Fingerprint, second.Fingerprint)

	f2, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	require.NotEqual(t, f1, f2)
	require.EqualValues(t, 2, h.renderer.calls.Load())

	rec, ok := h.table.Load("l1")
	require.True(t, ok)
	require.Equal(t, second.Fingerprint, string(rec.Fingerprint))
	waitIdle(t, h.sched, "l1")
}

func TestUnchangedFingerprintSkipsRenderAndWrite(t *testing.T) {
	h := newHarness(t)
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	published := waitFor[events.ArtifactPublished](t, h.events)
	waitIdle(t, h.sched, "l1")
	before, err := os.Stat(published.Path)
	require.NoError(t, err)
	rec, _ := h.table.Load("l1")

	// A change to an entity the layout does not reference.
	h.source.Set("sensor.unrelated", entity.Number(99))
	require.NoError(t, h.sched.Trigger("l1", ReasonStateChange))
	waitFor[events.RenderSkipped](t, h.events)
	waitIdle(t, h.sched, "l1")

	after, err := os.Stat(published.Path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())
	again, _ := h.table.Load("l1")
	require.Equal(t, rec.CommittedAt, again.CommittedAt)
	require.EqualValues(t, 1, h.renderer.calls.Load())
	require.EqualValues(t, 1, h.committer.attempts.Load())
}

func TestForceBypassesDetector(t *testing.T) {
	h := newHarness(t)
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	waitFor[events.ArtifactPublished](t, h.events)
	waitIdle(t, h.sched, "l1")

	require.NoError(t, h.sched.TriggerForce("l1", ReasonManual))
	waitFor[events.ArtifactPublished](t, h.events)
	require.EqualValues(t, 2, h.renderer.calls.Load())
	require.Equal(t, ReasonManual, waitIdle(t, h.sched, "l1").LastReason)
}

func TestTriggersCoalesceWhileRendering(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, withGate(gate))
	h.source.Set("temp.sensor", entity.Number(1))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	select {
	case <-h.renderer.started:
	case <-time.After(waitTimeout):
		t.Fatal("render did not start")
	}

	for i := range 10 {
		h.source.Set("temp.sensor", entity.Number(float64(i+2)))
		require.NoError(t, h.sched.Trigger("l1", ReasonStateChange))
	}
	st, _ := h.sched.Status("l1")
	require.Equal(t, StateRendering, st.State)
	require.True(t, st.Pending)

	close(gate)
	waitFor[events.ArtifactPublished](t, h.events)
	waitFor[events.ArtifactPublished](t, h.events)
	waitIdle(t, h.sched, "l1")

	// Give a hypothetical third run time to show up.
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 2, h.renderer.calls.Load())

	snap, err := h.source.CurrentSnapshot(t.Context(), []string{"temp.sensor"})
	require.NoError(t, err)
	fp := detect.Compute(mustFingerprint(t, h.store, "l1"), []string{"temp.sensor"}, snap)
	rec, _ := h.table.Load("l1")
	require.Equal(t, fp, rec.Fingerprint)
}

func mustFingerprint(t *testing.T, store *layout.Store, id string) layout.Fingerprint {
	t.Helper()
	_, fp, err := store.Get(id)
	require.NoError(t, err)
	return fp
}

func TestPublishFailsTwiceThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.committer.failures.Store(2)
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))

	f1 := waitFor[events.RenderFailed](t, h.events)
	require.True(t, f1.Retry)
	require.Equal(t, 1, f1.Attempt)
	require.Equal(t, string(errors.CategoryPublish), f1.Category)
	require.LessOrEqual(t, f1.RetryIn, 20*time.Millisecond)

	f2 := waitFor[events.RenderFailed](t, h.events)
	require.True(t, f2.Retry)
	require.Equal(t, 2, f2.Attempt)

	published := waitFor[events.ArtifactPublished](t, h.events)
	st := waitIdle(t, h.sched, "l1")
	require.Zero(t, st.Attempt)
	require.Empty(t, st.LastError)

	require.EqualValues(t, 3, h.committer.attempts.Load())
	require.EqualValues(t, 1, h.committer.successes.Load())

	data, err := os.ReadFile(published.Path)
	require.NoError(t, err)
	require.EqualValues(t, published.Size, len(data))
	entries, err := os.ReadDir(h.publisher.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRetriesExhaustedReturnsToIdle(t *testing.T) {
	h := newHarness(t, withOptions(WithRetryPolicy(fastRetry(1))))
	h.committer.failures.Store(100)
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	require.True(t, waitFor[events.RenderFailed](t, h.events).Retry)
	require.False(t, waitFor[events.RenderFailed](t, h.events).Retry)

	st := waitIdle(t, h.sched, "l1")
	require.NotEmpty(t, st.LastError)
	require.EqualValues(t, 2, h.committer.attempts.Load())
	_, ok := h.table.Load("l1")
	require.False(t, ok)
}

func TestSnapshotTimeoutIsRetried(t *testing.T) {
	h := newHarness(t,
		withSource(blockingSource{}),
		withOptions(WithSnapshotTimeout(20*time.Millisecond), WithRetryPolicy(fastRetry(1))),
	)

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	failed := waitFor[events.RenderFailed](t, h.events)
	require.Equal(t, string(errors.CategorySnapshot), failed.Category)
	require.True(t, failed.Retry)
	require.False(t, waitFor[events.RenderFailed](t, h.events).Retry)
	require.Zero(t, h.renderer.calls.Load())
}

func TestRemovedLayoutIsDropped(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, withGate(gate))
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	<-h.renderer.started
	require.NoError(t, h.sched.Trigger("l1", ReasonStateChange))

	h.store.Remove("l1")
	h.sched.Forget("l1")
	_, ok := h.sched.Status("l1")
	require.False(t, ok)
	close(gate)
	require.Eventually(t, func() bool { return h.sched.InFlight() == 0 }, waitTimeout, 5*time.Millisecond)

	err := h.sched.Trigger("l1", ReasonManual)
	require.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	require.Empty(t, h.sched.Statuses())
}

func TestUnknownDashboard(t *testing.T) {
	h := newHarness(t)
	err := h.sched.Trigger("nope", ReasonManual)
	require.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	_, ok := h.sched.Status("nope")
	require.False(t, ok)
}

func TestStalenessTimerTriggersRender(t *testing.T) {
	h := newHarness(t)
	h.source.Set("temp.sensor", entity.Number(21.0))
	require.NoError(t, h.sched.Track("l1", 30*time.Millisecond))
	h.sched.Start(t.Context())

	published := waitFor[events.ArtifactPublished](t, h.events)
	require.Equal(t, "l1", published.DashboardID)
	require.Eventually(t, func() bool {
		st, _ := h.sched.Status("l1")
		return st.LastReason == ReasonStale
	}, waitTimeout, 5*time.Millisecond)
}

func TestStopDrainsAndRefusesTriggers(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, withGate(gate))
	h.source.Set("temp.sensor", entity.Number(21.0))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	<-h.renderer.started

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(30 * time.Millisecond)
		close(gate)
	}()

	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	defer cancel()
	require.NoError(t, h.sched.Stop(ctx))
	wg.Wait()

	require.EqualValues(t, 1, h.committer.successes.Load())
	require.ErrorIs(t, h.sched.Trigger("l1", ReasonManual), ErrStopped)
	require.ErrorIs(t, h.sched.Track("l1", time.Minute), ErrStopped)
	require.Zero(t, h.sched.InFlight())
}

func TestStopCancelsAfterGrace(t *testing.T) {
	h := newHarness(t, withSource(blockingSource{}), withOptions(WithSnapshotTimeout(time.Hour)))

	require.NoError(t, h.sched.Trigger("l1", ReasonStartup))
	require.Eventually(t, func() bool { return h.sched.InFlight() == 1 }, waitTimeout, time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := h.sched.Stop(ctx)
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryDaemon))
	require.Zero(t, h.sched.InFlight())
	st, _ := h.sched.Status("l1")
	require.Equal(t, StateIdle, st.State)
}
