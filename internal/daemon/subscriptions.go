package daemon

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
	"git.home.luguber.info/inful/dashrender/internal/scheduler"
)

type entityIndex interface {
	Entities() []string
	DashboardsFor(entityID string) []string
}

type trigger interface {
	Trigger(id string, reason scheduler.Reason) error
}

// subscriptions keeps one state source subscription covering every entity
// bound by a registered layout, and turns changes into render triggers.
type subscriptions struct {
	source  entity.Source
	index   entityIndex
	trigger trigger

	mu   sync.Mutex
	ids  []string
	sub  entity.Subscription
	done bool
}

func newSubscriptions(source entity.Source, index entityIndex, t trigger) *subscriptions {
	return &subscriptions{source: source, index: index, trigger: t}
}

// Sync resubscribes when the bound entity set changed. The new subscription
// is opened before the old one is closed so no change slips through.
func (s *subscriptions) Sync(ctx context.Context) error {
	ids := s.index.Entities()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	if s.sub != nil && slices.Equal(ids, s.ids) {
		return nil
	}

	var next entity.Subscription
	if len(ids) > 0 {
		sub, err := s.source.Subscribe(ctx, ids, s.onChange)
		if err != nil {
			return errors.SourceError("failed to subscribe to entity states").
				WithCause(err).
				WithContext("entities", len(ids)).
				Build()
		}
		next = sub
	}
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Debug("Failed to cancel previous subscription", logfields.Error(err))
		}
	}
	s.sub, s.ids = next, ids
	slog.Debug("State subscription updated", slog.Int("entities", len(ids)))
	return nil
}

func (s *subscriptions) onChange(c entity.Change) {
	for _, id := range s.index.DashboardsFor(c.EntityID) {
		err := s.trigger.Trigger(id, scheduler.ReasonStateChange)
		switch {
		case err == nil:
		case errors.HasCategory(err, errors.CategoryNotFound):
			// Removed between the index lookup and the trigger.
		default:
			slog.Debug("State change trigger rejected",
				logfields.DashboardID(id),
				logfields.EntityID(c.EntityID),
				logfields.Error(err))
		}
	}
}

// Close cancels the subscription; later Syncs are ignored.
func (s *subscriptions) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}
