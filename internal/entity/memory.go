package entity

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemorySource is an in-process Source. Set publishes changes to matching
// subscribers synchronously, in the caller's goroutine.
type MemorySource struct {
	mu     sync.RWMutex
	states map[string]State
	subs   map[uint64]*memorySub
	nextID uint64
	now    Clock
}

type memorySub struct {
	ids map[string]struct{}
	fn  func(Change)
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		states: make(map[string]State),
		subs:   make(map[uint64]*memorySub),
		now:    time.Now,
	}
}

// WithClock overrides the clock used to stamp snapshots and changes.
func (m *MemorySource) WithClock(c Clock) *MemorySource {
	m.mu.Lock()
	m.now = c
	m.mu.Unlock()
	return m
}

// Set stores the new value and notifies subscribers of id.
// LastChanged only moves when the value actually changes, like Home Assistant.
func (m *MemorySource) Set(id string, v Value) {
	m.mu.Lock()
	now := m.now()
	prev, existed := m.states[id]
	st := State{Value: v, LastChanged: now}
	if existed && prev.Value.Equal(v) {
		st.LastChanged = prev.LastChanged
	}
	m.states[id] = st
	targets := m.subscribersOf(id)
	m.mu.Unlock()

	for _, fn := range targets {
		fn(Change{EntityID: id, State: st})
	}
}

// Delete removes id; subscribers see it become unavailable.
func (m *MemorySource) Delete(id string) {
	m.mu.Lock()
	delete(m.states, id)
	targets := m.subscribersOf(id)
	now := m.now()
	m.mu.Unlock()

	for _, fn := range targets {
		fn(Change{EntityID: id, State: State{Value: Unavailable(), LastChanged: now}})
	}
}

// Replace swaps the whole state set, notifying subscribers of every entity
// whose value differs.
func (m *MemorySource) Replace(states map[string]Value) {
	keys := make(map[string]struct{}, len(states))
	for id := range states {
		keys[id] = struct{}{}
	}
	m.mu.RLock()
	for id := range m.states {
		keys[id] = struct{}{}
	}
	m.mu.RUnlock()

	for _, id := range slices.Sorted(maps.Keys(keys)) {
		v, ok := states[id]
		if !ok {
			m.Delete(id)
			continue
		}
		m.mu.RLock()
		prev, existed := m.states[id]
		m.mu.RUnlock()
		if existed && prev.Value.Equal(v) {
			continue
		}
		m.Set(id, v)
	}
}

func (m *MemorySource) subscribersOf(id string) []func(Change) {
	var out []func(Change)
	for _, key := range slices.Sorted(maps.Keys(m.subs)) {
		if _, ok := m.subs[key].ids[id]; ok {
			out = append(out, m.subs[key].fn)
		}
	}
	return out
}

// CurrentSnapshot implements Source.
func (m *MemorySource) CurrentSnapshot(ctx context.Context, ids []string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(ids))
	for _, id := range ids {
		if st, ok := m.states[id]; ok {
			out[id] = st
		}
	}
	return Snapshot{observedAt: m.now(), states: out}, nil
}

// Subscribe implements Source.
func (m *MemorySource) Subscribe(ctx context.Context, ids []string, fn func(Change)) (Subscription, error) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	m.mu.Lock()
	m.nextID++
	key := m.nextID
	m.subs[key] = &memorySub{ids: set, fn: fn}
	m.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, key)
			m.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return SubscriptionFunc(func() error {
		stop()
		remove()
		return nil
	}), nil
}

// SubscriberCount returns the number of live subscriptions.
func (m *MemorySource) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
