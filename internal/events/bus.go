package events

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

// Bus is a typed, in-process fan-out for render lifecycle events.
//
// Publishers are render workers, so delivery never blocks: a subscriber whose
// buffer is full misses the event and its drop counter grows. Listeners that
// need every event (the render event log) size their buffer accordingly.
// The bus is not durable; internal/eventstore is.
type Bus struct {
	mu       sync.RWMutex
	subs     map[reflect.Type]map[uint64]*subscriber
	nextID   atomic.Uint64
	closed   atomic.Bool
	dropped  atomic.Uint64
	shutdown sync.Once
}

type subscriber struct {
	deliver func(evt any) bool
	close   func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type]map[uint64]*subscriber)}
}

// Subscribe registers a subscription for events of type T. When T is an
// interface every published event implementing it is delivered.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeFor[T]()
	ch := make(chan T, max(buffer, 1))

	var (
		chMu     sync.Mutex
		chClosed bool
	)
	closeChannel := func() {
		chMu.Lock()
		defer chMu.Unlock()
		if !chClosed {
			chClosed = true
			close(ch)
		}
	}

	sub := &subscriber{
		deliver: func(evt any) bool {
			v, ok := evt.(T)
			if !ok {
				return true
			}
			chMu.Lock()
			defer chMu.Unlock()
			if chClosed {
				return true
			}
			select {
			case ch <- v:
				return true
			default:
				return false
			}
		},
		close: closeChannel,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		closeChannel()
		return ch, func() {}
	}
	id := b.nextID.Add(1)
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][id] = sub
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			b.mu.Unlock()
			closeChannel()
		})
	}
}

// SubscriberCount returns the number of active subscribers for events of type T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reflect.TypeFor[T]()])
}

// Publish offers evt to every matching subscriber without blocking. It
// returns the number of subscribers that accepted it.
func (b *Bus) Publish(ctx context.Context, evt any) (int, error) {
	if evt == nil {
		return 0, ferrors.ValidationError("event cannot be nil").Build()
	}
	if err := ctx.Err(); err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryRuntime, "event publish canceled").Build()
	}
	if b.closed.Load() {
		return 0, ferrors.DaemonError("event bus is closed").Build()
	}

	evtType := reflect.TypeOf(evt)

	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for subType, typeSubs := range b.subs {
		if subType != evtType && (subType.Kind() != reflect.Interface || !evtType.Implements(subType)) {
			continue
		}
		for _, s := range typeSubs {
			if s.deliver(evt) {
				delivered++
			} else {
				b.dropped.Add(1)
			}
		}
	}
	return delivered, nil
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes the bus and all subscription channels.
func (b *Bus) Close() {
	b.shutdown.Do(func() {
		b.mu.Lock()
		b.closed.Store(true)
		subs := b.subs
		b.subs = make(map[reflect.Type]map[uint64]*subscriber)
		b.mu.Unlock()

		for _, typeSubs := range subs {
			for _, s := range typeSubs {
				s.close()
			}
		}
	})
}
