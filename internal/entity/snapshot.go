package entity

import (
	"maps"
	"slices"
	"time"
)

// State is the observed state of one entity.
type State struct {
	Value       Value
	LastChanged time.Time
}

// Snapshot is an immutable mapping of entity ID to State taken at ObservedAt.
type Snapshot struct {
	observedAt time.Time
	states     map[string]State
}

// NewSnapshot copies states so later mutation of the input cannot leak in.
func NewSnapshot(observedAt time.Time, states map[string]State) Snapshot {
	return Snapshot{observedAt: observedAt, states: maps.Clone(states)}
}

func (s Snapshot) ObservedAt() time.Time { return s.observedAt }
func (s Snapshot) Len() int              { return len(s.states) }

// Get returns the state of id and whether the snapshot contains it.
func (s Snapshot) Get(id string) (State, bool) {
	st, ok := s.states[id]
	return st, ok
}

// IDs returns the entity IDs in sorted order.
func (s Snapshot) IDs() []string {
	return slices.Sorted(maps.Keys(s.states))
}

// Restrict returns a snapshot holding only the given IDs.
func (s Snapshot) Restrict(ids []string) Snapshot {
	out := make(map[string]State, len(ids))
	for _, id := range ids {
		if st, ok := s.states[id]; ok {
			out[id] = st
		}
	}
	return Snapshot{observedAt: s.observedAt, states: out}
}
