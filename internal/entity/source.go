package entity

import (
	"context"
	"time"
)

// Change is one state-change notification. Delivery is at-least-once and may
// be duplicated or bursty; consumers must tolerate both.
type Change struct {
	EntityID string
	State    State
}

// Subscription is a live change subscription.
type Subscription interface {
	Unsubscribe() error
}

// Source supplies entity states. Implementations must be safe for concurrent use.
type Source interface {
	// CurrentSnapshot returns the states of ids. Unknown IDs are omitted,
	// never an error. It must honor ctx cancellation.
	CurrentSnapshot(ctx context.Context, ids []string) (Snapshot, error)

	// Subscribe calls fn for every change to one of ids until the
	// subscription is cancelled or ctx is done.
	Subscribe(ctx context.Context, ids []string, fn func(Change)) (Subscription, error)
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }

// Clock abstracts time for sources that stamp snapshots.
type Clock func() time.Time
