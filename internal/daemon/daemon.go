// Package daemon wires the render pipeline together: layout store and
// watcher, state source subscription, scheduler, publisher, event history
// and the HTTP API.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/dashrender/internal/api"
	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/eventstore"
	"git.home.luguber.info/inful/dashrender/internal/events"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
	"git.home.luguber.info/inful/dashrender/internal/metrics"
	"git.home.luguber.info/inful/dashrender/internal/publish"
	"git.home.luguber.info/inful/dashrender/internal/render"
	"git.home.luguber.info/inful/dashrender/internal/retry"
	"git.home.luguber.info/inful/dashrender/internal/scheduler"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// emitterBuffer sizes the event history subscription. History is best effort:
// events beyond it are dropped rather than stalling workers.
const emitterBuffer = 1024

// Daemon represents the main daemon service
type Daemon struct {
	config    *config.Config
	version   string
	status    atomic.Value // Status
	startTime time.Time

	// Core components
	layouts    *layout.Store
	table      *detect.Table
	publisher  *publish.Publisher
	scheduler  *scheduler.Scheduler
	watcher    *layout.Watcher
	httpServer *api.Server

	source      entity.Source
	closeSource func() error
	subs        *subscriptions

	// Event history
	history    *eventstore.SQLiteStore
	projection *eventstore.DashboardHistoryProjection
	emitter    *EventEmitter
	bus        *events.Bus

	registry *prometheus.Registry
	recorder metrics.Recorder

	runCtx context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool

	rejMu    sync.Mutex
	rejected map[string]string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSource replaces the configured state source, mainly for tests.
func WithSource(src entity.Source) Option {
	return func(d *Daemon) {
		d.source = src
		d.closeSource = func() error { return nil }
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option { return func(d *Daemon) { d.version = v } }

// New creates a daemon from validated configuration. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}

	d := &Daemon{
		config:   cfg,
		layouts:  layout.NewStore(),
		table:    detect.NewTable(),
		bus:      events.NewBus(),
		recorder: metrics.NoopRecorder{},
		rejected: make(map[string]string),
	}
	d.status.Store(StatusStopped)
	for _, opt := range opts {
		opt(d)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create data directory").
			WithContext("path", cfg.DataDir).
			Build()
	}
	history, err := eventstore.NewSQLiteStore(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		return nil, err
	}
	d.history = history
	d.projection = eventstore.NewDashboardHistoryProjection(history)
	d.emitter = NewEventEmitter(history, d.projection)

	d.publisher, err = publish.New(cfg.OutputDir, d.table, publish.WithRegistry(history))
	if err != nil {
		_ = history.Close()
		return nil, err
	}

	if cfg.Server.Metrics {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}
	return d, nil
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	if s, ok := d.status.Load().(Status); ok {
		return s
	}
	return StatusStopped
}

// Layouts exposes the layout store.
func (d *Daemon) Layouts() *layout.Store { return d.layouts }

// Scheduler exposes the render scheduler. It is nil before Start.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// History exposes the dashboard history projection.
func (d *Daemon) History() *eventstore.DashboardHistoryProjection { return d.projection }

// Start loads layouts, restores published state, connects the state source
// and starts the scheduler, watcher and HTTP server.
// A daemon that failed to start has already released its resources.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed || !d.status.CompareAndSwap(StatusStopped, StatusStarting) {
		d.mu.Unlock()
		return errors.DaemonError("daemon already started").Build()
	}
	d.startTime = time.Now()
	d.runCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Unlock()

	if err := d.start(ctx); err != nil {
		d.status.Store(StatusError)
		if serr := d.Stop(context.Background()); serr != nil {
			slog.Debug("Cleanup after failed start", logfields.Error(serr))
		}
		return err
	}

	d.status.Store(StatusRunning)
	slog.Info("Daemon started",
		slog.Int("dashboards", d.layouts.Len()),
		logfields.Path(d.publisher.Dir()))
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	diff, err := d.layouts.LoadDir(d.config.LayoutsDir)
	if err != nil {
		return err
	}
	d.recordRejected(diff.Invalid)

	if err := d.projection.Rebuild(ctx); err != nil {
		slog.Warn("Failed to rebuild dashboard history projection", logfields.Error(err))
	}
	d.restoreArtifacts(ctx)

	if d.source == nil {
		src, closer, err := openSource(d.runCtx, d.config.Source)
		if err != nil {
			return err
		}
		d.source, d.closeSource = src, closer
	}

	policy := retry.NewPolicy(d.config.Retry)
	sched, err := scheduler.New(d.layouts, d.source, render.New(), d.publisher, detect.New(d.table),
		scheduler.WithWorkers(d.config.Workers),
		scheduler.WithSnapshotTimeout(d.config.SnapshotTimeout),
		scheduler.WithMaxAge(d.config.MaxAge),
		scheduler.WithRetryPolicy(policy),
		scheduler.WithRecorder(d.recorder),
		scheduler.WithObserver(scheduler.ObserverFunc(d.publishEvent)),
	)
	if err != nil {
		return err
	}
	d.scheduler = sched

	ch, _ := events.Subscribe[events.Lifecycle](d.bus, emitterBuffer)
	d.emitter.Consume(d.runCtx, ch)

	ids := d.layouts.List()
	for _, id := range ids {
		d.track(id)
	}
	sched.Start(d.runCtx)

	d.subs = newSubscriptions(d.source, d.layouts, sched)
	if err := d.subs.Sync(d.runCtx); err != nil {
		return err
	}

	if d.config.WatchEnabled() {
		w, err := layout.NewWatcher(d.config.LayoutsDir, d.layouts, d.onLayoutChange)
		if err != nil {
			return err
		}
		if err := w.Start(d.runCtx); err != nil {
			_ = w.Stop()
			return err
		}
		d.watcher = w
	}

	if d.config.Server.Enabled {
		deps := api.Deps{
			Layouts:   d.layouts,
			Scheduler: sched,
			Artifacts: d.publisher,
			Records:   d.table,
			History:   d.history,
			Bus:       d.bus,
			Version:   d.version,
		}
		if d.registry != nil {
			deps.Metrics = metrics.HTTPHandler(d.registry)
		}
		d.httpServer = api.NewServer(d.config.Server.Listen, deps)
		if err := d.httpServer.Start(ctx); err != nil {
			return err
		}
	}

	for _, id := range ids {
		if err := sched.Trigger(id, scheduler.ReasonStartup); err != nil {
			slog.Warn("Startup render not queued", logfields.DashboardID(id), logfields.Error(err))
		}
	}
	return nil
}

// restoreArtifacts seeds the change detector from the artifact registry so
// an unchanged dashboard is not rewritten after a restart, then removes
// artifacts of dashboards that no longer exist. Dashboards whose document
// is merely invalid keep their artifact and record.
func (d *Daemon) restoreArtifacts(ctx context.Context) {
	artifacts, err := d.history.Artifacts(ctx)
	if err != nil {
		slog.Warn("Failed to read artifact registry", logfields.Error(err))
	}
	known := d.knownDashboards()
	restored := 0
	for _, a := range artifacts {
		if !slices.Contains(known, a.DashboardID) {
			continue
		}
		if d.publisher.Restore(a) {
			restored++
		}
	}
	if restored > 0 {
		slog.Info("Restored published artifacts", slog.Int("count", restored))
	}
	d.prune(ctx)
}

// knownDashboards lists registered dashboards plus those held back by an
// invalid document.
func (d *Daemon) knownDashboards() []string {
	ids := append(d.layouts.List(), d.layouts.Retained()...)
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (d *Daemon) prune(ctx context.Context) {
	removed, err := d.publisher.Prune(ctx, d.knownDashboards())
	if err != nil {
		slog.Warn("Failed to prune artifacts", logfields.Error(err))
		return
	}
	for _, id := range removed {
		slog.Info("Pruned artifact of removed dashboard", logfields.DashboardID(id))
	}
}

func (d *Daemon) track(id string) {
	l, _, err := d.layouts.Get(id)
	if err != nil {
		return
	}
	if err := d.scheduler.Track(id, l.MaxAgeDuration()); err != nil {
		slog.Warn("Failed to schedule staleness check", logfields.DashboardID(id), logfields.Error(err))
	}
}

func (d *Daemon) publishEvent(evt events.Lifecycle) {
	if _, err := d.bus.Publish(d.runCtx, evt); err != nil {
		slog.Debug("Lifecycle event not published", logfields.DashboardID(evt.Dashboard()), logfields.Error(err))
	}
}

// onLayoutChange applies a layout reload: changed dashboards render again,
// removed ones lose their state and artifact. Invalidated ones only stop
// being scheduled; their last artifact stays published until a corrected
// layout renders over it.
func (d *Daemon) onLayoutChange(diff layout.Diff) {
	ctx := d.runCtx
	d.recordRejected(diff.Invalid)

	for _, id := range diff.Invalidated {
		slog.Warn("Dashboard suspended by invalid layout; keeping its artifact", logfields.DashboardID(id))
		d.scheduler.Forget(id)
	}
	for _, id := range diff.Removed {
		slog.Info("Dashboard removed", logfields.DashboardID(id))
		d.scheduler.Forget(id)
	}
	if len(diff.Removed) > 0 {
		d.prune(ctx)
	}

	if err := d.subs.Sync(ctx); err != nil {
		slog.Error("Failed to update state subscription", logfields.Error(err))
	}

	for _, ids := range [][]string{diff.Added, diff.Changed} {
		for _, id := range ids {
			d.track(id)
			if err := d.scheduler.Trigger(id, scheduler.ReasonLayout); err != nil {
				slog.Debug("Layout render not queued", logfields.DashboardID(id), logfields.Error(err))
			}
		}
	}
}

// recordRejected stores a LayoutRejected event once per distinct error of a document.
func (d *Daemon) recordRejected(invalid map[string]error) {
	d.rejMu.Lock()
	defer d.rejMu.Unlock()
	for path, err := range invalid {
		if d.rejected[path] == err.Error() {
			continue
		}
		d.rejected[path] = err.Error()
		if eerr := d.emitter.EmitLayoutRejected(d.runCtx, path, err, time.Now()); eerr != nil {
			slog.Warn("Failed to record rejected layout", logfields.Path(path), logfields.Error(eerr))
		}
	}
	for path := range d.rejected {
		if _, still := invalid[path]; !still {
			delete(d.rejected, path)
		}
	}
}

// Run starts the daemon and blocks until ctx is done, then stops it within
// the configured grace period.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("Shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownGrace)
	defer cancel()
	return d.Stop(stopCtx)
}

// Stop refuses new triggers, waits for in-flight jobs until ctx expires and
// releases every resource.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	status := d.GetStatus()
	if d.closed || status == StatusStopping {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.status.Store(StatusStopping)
	d.mu.Unlock()

	slog.Info("Stopping daemon")
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.watcher != nil {
		keep(d.watcher.Stop())
	}
	if d.subs != nil {
		keep(d.subs.Close())
	}
	if d.scheduler != nil {
		keep(d.scheduler.Stop(ctx))
	}
	if d.httpServer != nil {
		keep(d.httpServer.Shutdown(ctx))
	}

	d.bus.Close()
	d.emitter.Wait()
	if d.cancel != nil {
		d.cancel()
	}
	if d.closeSource != nil {
		keep(d.closeSource())
	}
	keep(d.history.Close())

	d.status.Store(StatusStopped)
	if firstErr != nil {
		slog.Warn("Daemon stopped with errors", logfields.Error(firstErr))
	} else {
		slog.Info("Daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	}
	return firstErr
}
