package scheduler

import "git.home.luguber.info/inful/dashrender/internal/events"

// Observer receives lifecycle notifications. Observe is called outside any
// scheduler lock and must not block for long.
type Observer interface {
	Observe(evt events.Lifecycle)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(evt events.Lifecycle)

func (f ObserverFunc) Observe(evt events.Lifecycle) { f(evt) }

type noopObserver struct{}

func (noopObserver) Observe(events.Lifecycle) {}
