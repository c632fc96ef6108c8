// Package scheduler drives the render cycle: one state machine per dashboard,
// a bounded pool of workers, coalesced triggers and backoff retries.
package scheduler

import (
	"context"
	stderrors "errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/events"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
	"git.home.luguber.info/inful/dashrender/internal/metrics"
	"git.home.luguber.info/inful/dashrender/internal/publish"
	"git.home.luguber.info/inful/dashrender/internal/render"
	"git.home.luguber.info/inful/dashrender/internal/retry"
)

// ErrStopped is returned by Trigger after Stop was called.
var ErrStopped = stderrors.New("scheduler is stopped")

// Layouts resolves dashboard definitions.
type Layouts interface {
	Get(id string) (*layout.Layout, layout.Fingerprint, error)
}

// Renderer turns a layout and a snapshot into image bytes.
type Renderer interface {
	Render(l *layout.Layout, snap entity.Snapshot) (render.Result, error)
}

// Committer publishes render results.
type Committer interface {
	Commit(ctx context.Context, pl publish.Payload) (publish.Artifact, error)
}

// Job is one render attempt for a dashboard. Fingerprint is the target
// fingerprint, known once the snapshot was taken.
type Job struct {
	ID          string
	DashboardID string
	Reason      Reason
	Forced      bool
	Attempt     int
	Fingerprint detect.Fingerprint
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeSkipped
	outcomeStale
	outcomeDropped
	outcomeFailed
)

// Scheduler owns the per-dashboard state machines.
type Scheduler struct {
	layouts   Layouts
	source    entity.Source
	renderer  Renderer
	publisher Committer
	detector  *detect.Detector

	workers         int
	snapshotTimeout time.Duration
	maxAge          time.Duration
	policy          retry.Policy
	recorder        metrics.Recorder
	observer        Observer
	now             func() time.Time

	mu     sync.RWMutex // guards the dashboards and staleness maps, never held during a job
	boards map[string]*dashboard
	stale  map[string]staleJob

	slots    chan struct{}
	inFlight atomic.Int64
	group    jobGroup
	cron     gocron.Scheduler

	runCtx   context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of concurrent render jobs.
func WithWorkers(n int) Option { return func(s *Scheduler) { s.workers = max(n, 1) } }

// WithSnapshotTimeout bounds the wait for a snapshot.
func WithSnapshotTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.snapshotTimeout = d }
}

// WithMaxAge sets the staleness interval used when a layout sets none.
func WithMaxAge(d time.Duration) Option { return func(s *Scheduler) { s.maxAge = d } }

// WithRetryPolicy sets the backoff applied after failed jobs.
func WithRetryPolicy(p retry.Policy) Option { return func(s *Scheduler) { s.policy = p } }

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// WithObserver injects a lifecycle observer.
func WithObserver(o Observer) Option { return func(s *Scheduler) { s.observer = o } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a scheduler. Jobs run as soon as they are triggered; Start
// only enables the staleness timers.
func New(layouts Layouts, source entity.Source, renderer Renderer, publisher Committer, detector *detect.Detector, opts ...Option) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryDaemon, "failed to create staleness scheduler").Build()
	}
	s := &Scheduler{
		layouts:         layouts,
		source:          source,
		renderer:        renderer,
		publisher:       publisher,
		detector:        detector,
		workers:         2,
		snapshotTimeout: 10 * time.Second,
		maxAge:          15 * time.Minute,
		policy:          retry.DefaultPolicy(),
		recorder:        metrics.NoopRecorder{},
		observer:        noopObserver{},
		now:             time.Now,
		boards:          make(map[string]*dashboard),
		stale:           make(map[string]staleJob),
		cron:            cron,
		quit:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = make(chan struct{}, s.workers)
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start enables the staleness timers.
func (s *Scheduler) Start(context.Context) {
	slog.Info("Starting render scheduler", slog.Int("workers", s.workers))
	s.cron.Start()
}

// Trigger requests a render of id. The change detector may still skip it.
func (s *Scheduler) Trigger(id string, reason Reason) error {
	return s.trigger(id, reason, false)
}

// TriggerForce requests a render of id that bypasses the change detector.
func (s *Scheduler) TriggerForce(id string, reason Reason) error {
	return s.trigger(id, reason, true)
}

func (s *Scheduler) trigger(id string, reason Reason, force bool) error {
	if s.stopping.Load() {
		return ErrStopped
	}
	if _, _, err := s.layouts.Get(id); err != nil {
		return err
	}
	s.recorder.IncTrigger(string(reason))

	d := s.board(id)
	d.mu.Lock()
	d.removed = false
	d.reason = reason
	d.force = d.force || force
	switch d.state {
	case StateQueued:
		// Merged into the job that has not started yet.
		d.mu.Unlock()
		return nil
	case StateRendering, StateFailed:
		d.pending = true
		d.mu.Unlock()
		return nil
	}
	d.state = StateQueued
	d.mu.Unlock()

	s.observer.Observe(events.RenderQueued{DashboardID: id, Reason: string(reason), Forced: force, QueuedAt: s.now()})
	s.dispatch(d)
	return nil
}

// board returns the state machine for id, creating it on first use.
func (s *Scheduler) board(id string) *dashboard {
	s.mu.RLock()
	d, ok := s.boards[id]
	s.mu.RUnlock()
	if ok {
		return d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok = s.boards[id]; !ok {
		d = &dashboard{id: id, state: StateIdle}
		s.boards[id] = d
	}
	return d
}

// dispatch hands a QUEUED dashboard to a worker.
func (s *Scheduler) dispatch(d *dashboard) {
	if !s.group.Go(func() { s.work(d) }) {
		s.abandon(d)
	}
}

// abandon returns a queued dashboard to IDLE during shutdown.
func (s *Scheduler) abandon(d *dashboard) {
	d.mu.Lock()
	d.state = StateIdle
	d.pending = false
	d.stopTimerLocked()
	d.mu.Unlock()
}

func (s *Scheduler) work(d *dashboard) {
	select {
	case s.slots <- struct{}{}:
	case <-s.quit:
		s.abandon(d)
		return
	}
	defer func() { <-s.slots }()

	d.mu.Lock()
	job := Job{
		ID:          uuid.NewString(),
		DashboardID: d.id,
		Reason:      d.reason,
		Forced:      d.force,
		Attempt:     d.failures + 1,
	}
	d.state = StateRendering
	d.force = false
	d.lastReason = job.Reason
	d.lastRun = s.now()
	d.mu.Unlock()

	s.recorder.SetInFlight(int(s.inFlight.Add(1)))
	defer func() { s.recorder.SetInFlight(int(s.inFlight.Add(-1))) }()

	started := s.now()
	s.observer.Observe(events.RenderStarted{
		DashboardID: job.DashboardID,
		JobID:       job.ID,
		Reason:      string(job.Reason),
		Forced:      job.Forced,
		Attempt:     job.Attempt,
		StartedAt:   started,
	})

	out, err := s.execute(s.runCtx, &job)
	s.recorder.ObserveRenderDuration(job.DashboardID, s.now().Sub(started))
	s.finish(d, job, out, err)
}

// execute runs the pick-up, detect, render and commit steps of one job.
func (s *Scheduler) execute(ctx context.Context, job *Job) (outcome, error) {
	log := slog.With(logfields.DashboardID(job.DashboardID), logfields.JobID(job.ID))

	l, lfp, err := s.layouts.Get(job.DashboardID)
	if err != nil {
		return outcomeDropped, err
	}
	bindings := l.Bindings()

	snap, err := s.snapshot(ctx, job.DashboardID, bindings)
	if err != nil {
		return outcomeFailed, err
	}

	fp := detect.Compute(lfp, bindings, snap)
	job.Fingerprint = fp
	if !job.Forced && !s.detector.ShouldRender(job.DashboardID, fp) {
		log.Debug("Render skipped, fingerprint unchanged", logfields.Fingerprint(string(fp)))
		s.observer.Observe(events.RenderSkipped{
			DashboardID: job.DashboardID,
			JobID:       job.ID,
			Reason:      string(job.Reason),
			Fingerprint: string(fp),
			SkippedAt:   s.now(),
		})
		return outcomeSkipped, nil
	}

	started := s.now()
	res, err := s.renderer.Render(l, snap)
	if err != nil {
		if errors.IsInvalidLayout(err) {
			return outcomeDropped, err
		}
		return outcomeFailed, err
	}
	if derr := res.DegradedError(); derr != nil {
		log.Warn("Rendered with placeholders", logfields.Error(derr))
		s.recorder.AddDegradedWidgets(job.DashboardID, len(res.Degraded))
	}

	a, err := s.publisher.Commit(ctx, publish.Payload{
		DashboardID: job.DashboardID,
		Ext:         l.Size.Format.Ext(),
		Data:        res.Data,
		Fingerprint: fp,
		ObservedAt:  snap.ObservedAt(),
	})
	switch {
	case stderrors.Is(err, publish.ErrStaleResult):
		log.Info("Discarded result older than the published artifact")
		return outcomeStale, nil
	case err != nil:
		return outcomeFailed, err
	}

	log.Info("Published dashboard",
		logfields.Path(a.Path),
		logfields.Fingerprint(string(a.Fingerprint)),
		logfields.Trigger(string(job.Reason)),
		logfields.DurationMS(s.now().Sub(started)))
	s.observer.Observe(events.ArtifactPublished{
		DashboardID: job.DashboardID,
		JobID:       job.ID,
		Reason:      string(job.Reason),
		Attempt:     job.Attempt,
		Path:        a.Path,
		Fingerprint: string(a.Fingerprint),
		ContentHash: a.ContentHash,
		Size:        a.Size,
		Degraded:    degradedList(res.Degraded),
		Duration:    s.now().Sub(started),
		PublishedAt: a.CommittedAt,
	})
	return outcomePublished, nil
}

func degradedList(ds []render.Degraded) []string {
	if len(ds) == 0 {
		return nil
	}
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.EntityID+"("+string(d.Reason)+")")
	}
	return out
}

func (s *Scheduler) snapshot(ctx context.Context, dashboardID string, bindings []string) (entity.Snapshot, error) {
	sctx, cancel := context.WithTimeout(ctx, s.snapshotTimeout)
	defer cancel()
	snap, err := s.source.CurrentSnapshot(sctx, bindings)
	if err == nil {
		return snap, nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return entity.Snapshot{}, errors.SnapshotTimeout("state source did not deliver a snapshot in time").
			WithCause(err).
			WithContext("dashboard_id", dashboardID).
			WithContext("timeout", s.snapshotTimeout.String()).
			Build()
	}
	if errors.IsClassified(err) || ctx.Err() != nil {
		return entity.Snapshot{}, err
	}
	return entity.Snapshot{}, errors.SourceError("failed to fetch snapshot").
		WithCause(err).
		WithContext("dashboard_id", dashboardID).
		Retryable().
		Build()
}

// finish applies the RENDERING exit transition.
func (s *Scheduler) finish(d *dashboard, job Job, out outcome, err error) {
	if out == outcomeFailed && (s.stopping.Load() || errors.IsInvalidLayout(err)) {
		out = outcomeDropped
	}

	var (
		requeue  bool
		reason   Reason
		failed   *events.RenderFailed
		delay    time.Duration
		attempts int
	)

	d.mu.Lock()
	switch out {
	case outcomeFailed:
		d.failures++
		attempts = d.failures
		d.lastErr = err.Error()
		d.force = d.force || job.Forced
		failed = &events.RenderFailed{
			DashboardID: job.DashboardID,
			JobID:       job.ID,
			Reason:      string(job.Reason),
			Attempt:     job.Attempt,
			Category:    string(errors.GetCategory(err)),
			Error:       err.Error(),
			FailedAt:    s.now(),
		}
		if s.policy.Exhausted(d.failures) {
			d.failures = 0
			d.state = StateIdle
			requeue = d.pending
		} else {
			delay = s.policy.Delay(d.failures)
			d.state = StateFailed
			d.nextRetry = s.now().Add(delay)
			d.timer = time.AfterFunc(delay, func() { s.retry(d) })
			failed.Retry = true
			failed.RetryIn = delay
		}
	case outcomeDropped:
		d.failures = 0
		d.pending = false
		d.force = false
		d.state = StateIdle
		if err != nil {
			d.lastErr = err.Error()
		}
	default:
		d.failures = 0
		d.lastErr = ""
		d.state = StateIdle
		requeue = d.pending
	}
	if requeue {
		d.pending = false
		d.state = StateQueued
		reason = d.reason
	}
	d.mu.Unlock()

	log := slog.With(logfields.DashboardID(job.DashboardID), logfields.JobID(job.ID))
	switch out {
	case outcomePublished:
		s.recorder.IncRenderOutcome(job.DashboardID, metrics.OutcomePublished)
	case outcomeSkipped:
		s.recorder.IncRenderOutcome(job.DashboardID, metrics.OutcomeSkipped)
	case outcomeStale:
		s.recorder.IncRenderOutcome(job.DashboardID, metrics.OutcomeStale)
	case outcomeDropped:
		s.recorder.IncRenderOutcome(job.DashboardID, metrics.OutcomeDropped)
		if err != nil && !s.stopping.Load() {
			log.Warn("Render job dropped", logfields.Error(err))
		}
	case outcomeFailed:
		s.recorder.IncRenderOutcome(job.DashboardID, metrics.OutcomeFailed)
		if failed.Retry {
			s.recorder.IncRetry(job.DashboardID)
			log.Warn("Render job failed, retry scheduled",
				logfields.Attempt(attempts),
				logfields.Delay(delay),
				logfields.Error(err))
		} else {
			s.recorder.IncRetryExhausted(job.DashboardID)
			log.Error("Render job failed, retries exhausted",
				logfields.Attempt(attempts),
				logfields.Error(err))
		}
		s.observer.Observe(*failed)
	}

	if requeue {
		s.observer.Observe(events.RenderQueued{DashboardID: job.DashboardID, Reason: string(reason), QueuedAt: s.now()})
		s.dispatch(d)
	}
}

// retry moves a FAILED dashboard back to QUEUED once its backoff elapsed.
func (s *Scheduler) retry(d *dashboard) {
	if s.stopping.Load() {
		return
	}
	d.mu.Lock()
	if d.state != StateFailed {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.nextRetry = time.Time{}
	if !d.pending {
		d.reason = ReasonRetry
	}
	d.pending = false
	d.state = StateQueued
	reason := d.reason
	d.mu.Unlock()

	s.observer.Observe(events.RenderQueued{DashboardID: d.id, Reason: string(reason), QueuedAt: s.now()})
	s.dispatch(d)
}

// Forget cancels retries and staleness checks for a removed dashboard. A
// job already running finishes; later triggers fail until the layout is
// registered again.
func (s *Scheduler) Forget(id string) {
	s.untrack(id)
	s.mu.RLock()
	d, ok := s.boards[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	d.mu.Lock()
	d.removed = true
	d.pending = false
	d.force = false
	d.failures = 0
	d.stopTimerLocked()
	if d.state == StateFailed {
		d.state = StateIdle
	}
	d.mu.Unlock()
}

// Status returns the state of id. Forgotten dashboards are not reported.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.RLock()
	d, ok := s.boards[id]
	s.mu.RUnlock()
	if ok {
		d.mu.Lock()
		ok = !d.removed
		d.mu.Unlock()
	}
	if !ok {
		return Status{DashboardID: id, State: StateIdle}, false
	}
	return d.status(), true
}

// Statuses returns every tracked dashboard sorted by ID.
func (s *Scheduler) Statuses() []Status {
	s.mu.RLock()
	ids := slices.Sorted(maps.Keys(s.boards))
	boards := make([]*dashboard, 0, len(ids))
	for _, id := range ids {
		boards = append(boards, s.boards[id])
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(boards))
	for _, d := range boards {
		d.mu.Lock()
		removed := d.removed
		d.mu.Unlock()
		if !removed {
			out = append(out, d.status())
		}
	}
	return out
}

// InFlight returns the number of jobs holding a worker slot.
func (s *Scheduler) InFlight() int { return int(s.inFlight.Load()) }

// Stop refuses new triggers, cancels pending retries and waits for running
// jobs until ctx is done; jobs still running then are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		slog.Info("Stopping render scheduler")
		s.stopping.Store(true)
		close(s.quit)
		if err := s.cron.Shutdown(); err != nil {
			slog.Warn("Failed to stop staleness scheduler", logfields.Error(err))
		}
		s.mu.RLock()
		boards := slices.Collect(maps.Values(s.boards))
		s.mu.RUnlock()
		for _, d := range boards {
			d.mu.Lock()
			d.stopTimerLocked()
			if d.state == StateFailed {
				d.state = StateIdle
			}
			d.pending = false
			d.mu.Unlock()
		}
	})

	err := s.group.StopAndWait(ctx)
	s.cancel()
	if err != nil {
		s.group.Wait()
		return errors.WrapError(err, errors.CategoryDaemon, "render jobs cancelled after shutdown grace period").Build()
	}
	return nil
}
