package scheduler

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

type staleJob struct {
	id       uuid.UUID
	interval time.Duration
}

// Track installs or updates the staleness timer of a dashboard. A maxAge of
// zero uses the scheduler default.
func (s *Scheduler) Track(id string, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = s.maxAge
	}
	if s.stopping.Load() {
		return ErrStopped
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.stale[id]; ok {
		if cur.interval == maxAge {
			return nil
		}
		if err := s.cron.RemoveJob(cur.id); err != nil {
			slog.Debug("Staleness job already gone", logfields.DashboardID(id), logfields.Error(err))
		}
		delete(s.stale, id)
	}

	job, err := s.cron.NewJob(
		gocron.DurationJob(maxAge),
		gocron.NewTask(s.checkStale, id, maxAge),
		gocron.WithName("stale-"+id),
		gocron.WithTags(id),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to create staleness job").
			WithContext("dashboard_id", id).
			Build()
	}
	s.stale[id] = staleJob{id: job.ID(), interval: maxAge}
	return nil
}

func (s *Scheduler) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.stale[id]
	if !ok {
		return
	}
	delete(s.stale, id)
	if err := s.cron.RemoveJob(cur.id); err != nil {
		slog.Debug("Staleness job already gone", logfields.DashboardID(id), logfields.Error(err))
	}
}

// checkStale triggers a render when the last commit is older than maxAge.
// The trigger still goes through the change detector: it catches changes the
// state source failed to notify.
func (s *Scheduler) checkStale(id string, maxAge time.Duration) {
	if rec, ok := s.detector.Table().Load(id); ok && s.now().Sub(rec.CommittedAt) < maxAge {
		return
	}
	if err := s.Trigger(id, ReasonStale); err != nil && !errors.HasCategory(err, errors.CategoryNotFound) {
		slog.Debug("Staleness trigger rejected", logfields.DashboardID(id), logfields.Error(err))
	}
}
