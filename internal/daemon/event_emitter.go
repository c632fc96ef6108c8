package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/eventstore"
	"git.home.luguber.info/inful/dashrender/internal/events"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

// EventEmitter records render lifecycle events in the event store and keeps
// the dashboard history projection current.
type EventEmitter struct {
	store      eventstore.Store
	projection *eventstore.DashboardHistoryProjection

	wg sync.WaitGroup
}

// NewEventEmitter creates a new EventEmitter with the given store and projection.
func NewEventEmitter(store eventstore.Store, projection *eventstore.DashboardHistoryProjection) *EventEmitter {
	return &EventEmitter{store: store, projection: projection}
}

// EmitEvent persists an event and updates the projection.
func (e *EventEmitter) EmitEvent(ctx context.Context, event eventstore.Event) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	if e.projection != nil {
		e.projection.Apply(event)
	}
	return nil
}

// Record converts a bus lifecycle event into its stored form and emits it.
// RenderQueued is not persisted; the queue is visible through scheduler status.
func (e *EventEmitter) Record(ctx context.Context, evt events.Lifecycle) error {
	stored, err := convert(evt)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if err := e.EmitEvent(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// EmitLayoutRejected records an invalid layout document.
func (e *EventEmitter) EmitLayoutRejected(ctx context.Context, path string, cause error, at time.Time) error {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	event, err := eventstore.NewLayoutRejected(id, at, eventstore.LayoutRejectedPayload{
		Path:  path,
		Error: cause.Error(),
	})
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

// Consume records events from ch until it is closed. Failures are logged.
func (e *EventEmitter) Consume(ctx context.Context, ch <-chan events.Lifecycle) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for evt := range ch {
			if err := e.Record(ctx, evt); err != nil {
				slog.Warn("Failed to record render event",
					logfields.DashboardID(evt.Dashboard()),
					logfields.Error(err))
			}
		}
	}()
}

// Wait blocks until Consume has drained its channel.
func (e *EventEmitter) Wait() { e.wg.Wait() }

func convert(evt events.Lifecycle) ([]eventstore.Event, error) {
	switch ev := evt.(type) {
	case events.RenderStarted:
		s, err := eventstore.NewRenderStarted(ev.DashboardID, ev.JobID, ev.StartedAt, eventstore.RenderStartedPayload{
			Trigger: ev.Reason,
			Attempt: ev.Attempt,
			Forced:  ev.Forced,
		})
		return one(s, err)
	case events.RenderSkipped:
		s, err := eventstore.NewRenderSkipped(ev.DashboardID, ev.JobID, ev.SkippedAt, eventstore.RenderSkippedPayload{
			Trigger:     ev.Reason,
			Fingerprint: ev.Fingerprint,
		})
		return one(s, err)
	case events.ArtifactPublished:
		s, err := eventstore.NewRenderPublished(ev.DashboardID, ev.JobID, ev.PublishedAt, eventstore.RenderPublishedPayload{
			Trigger:     ev.Reason,
			Attempt:     ev.Attempt,
			Fingerprint: ev.Fingerprint,
			Path:        ev.Path,
			Size:        ev.Size,
			DurationMS:  ev.Duration.Milliseconds(),
			Degraded:    ev.Degraded,
		})
		return one(s, err)
	case events.RenderFailed:
		failed, err := eventstore.NewRenderFailed(ev.DashboardID, ev.JobID, ev.FailedAt, eventstore.RenderFailedPayload{
			Trigger:   ev.Reason,
			Attempt:   ev.Attempt,
			Category:  ev.Category,
			Error:     ev.Error,
			Retryable: ev.Retry,
		})
		if err != nil || !ev.Retry {
			return one(failed, err)
		}
		retry, err := eventstore.NewRetryScheduled(ev.DashboardID, ev.JobID, ev.FailedAt, eventstore.RetryScheduledPayload{
			Attempt: ev.Attempt + 1,
			DelayMS: ev.RetryIn.Milliseconds(),
		})
		if err != nil {
			return nil, err
		}
		return []eventstore.Event{failed, retry}, nil
	default:
		return nil, nil
	}
}

func one(e eventstore.Event, err error) ([]eventstore.Event, error) {
	if err != nil {
		return nil, err
	}
	return []eventstore.Event{e}, nil
}
