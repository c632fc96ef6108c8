// Package natssource reads Home Assistant entity states from a NATS JetStream
// key-value bucket. Each key is an entity ID; each value is either a JSON
// record {"state": "...", "last_changed": "..."} or the bare state string.
package natssource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// bucket is the subset of jetstream.KeyValue the source uses.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error)
}

// Record is the JSON form of a stored entity state.
type Record struct {
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed,omitzero"`
}

// Source implements entity.Source on a JetStream KV bucket.
type Source struct {
	conn *nats.Conn
	kv   bucket
	now  entity.Clock
}

var _ entity.Source = (*Source)(nil)

// Connect dials NATS and opens (or creates) the configured bucket.
func Connect(ctx context.Context, cfg config.SourceConfig) (*Source, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("nats_url is required")
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Name("dashrender"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := openBucket(ctx, js, cfg.KVBucket)
	if err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS state source connected", "url", cfg.NATSURL, "kv_bucket", cfg.KVBucket)
	return &Source{conn: conn, kv: kv, now: time.Now}, nil
}

func openBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", name, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Home Assistant entity states for dashrender",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", name, err)
	}
	slog.Info("Created KV bucket for entity states", "bucket", name)
	return kv, nil
}

// newWithBucket builds a Source over an already opened bucket.
func newWithBucket(kv bucket, now entity.Clock) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{kv: kv, now: now}
}

// CurrentSnapshot implements entity.Source. Missing keys are omitted.
func (s *Source) CurrentSnapshot(ctx context.Context, ids []string) (entity.Snapshot, error) {
	states := make(map[string]entity.State, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return entity.Snapshot{}, err
		}
		e, err := s.kv.Get(ctx, id)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return entity.Snapshot{}, ctxErr
			}
			return entity.Snapshot{}, fmt.Errorf("get %s: %w", id, err)
		}
		states[id] = decode(e)
	}
	return entity.NewSnapshot(s.now(), states), nil
}

// Subscribe implements entity.Source with one KV watcher per entity.
func (s *Source) Subscribe(ctx context.Context, ids []string, fn func(entity.Change)) (entity.Subscription, error) {
	wctx, cancel := context.WithCancel(ctx)
	var watchers []jetstream.KeyWatcher
	for _, id := range ids {
		w, err := s.kv.Watch(wctx, id, jetstream.UpdatesOnly())
		if err != nil {
			cancel()
			for _, w := range watchers {
				_ = w.Stop()
			}
			return nil, fmt.Errorf("watch %s: %w", id, err)
		}
		watchers = append(watchers, w)
	}

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w jetstream.KeyWatcher) {
			defer wg.Done()
			pump(wctx, w, fn)
		}(w)
	}

	var once sync.Once
	return entity.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			cancel()
			for _, w := range watchers {
				err = errors.Join(err, w.Stop())
			}
			wg.Wait()
		})
		return err
	}), nil
}

func pump(ctx context.Context, w jetstream.KeyWatcher, fn func(entity.Change)) {
	updates := w.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-updates:
			if !ok {
				return
			}
			// nil marks the end of the initial values.
			if e == nil {
				continue
			}
			slog.Debug("Entity state update", logfields.EntityID(e.Key()), "revision", e.Revision())
			fn(entity.Change{EntityID: e.Key(), State: decode(e)})
		}
	}
}

// Put stores a raw state string for id. Used by the CLI and tests to feed the bucket.
func (s *Source) Put(ctx context.Context, id, state string) error {
	data, err := json.Marshal(Record{State: state, LastChanged: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if _, err := s.kv.Put(ctx, id, data); err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *Source) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func decode(e jetstream.KeyValueEntry) entity.State {
	switch e.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return entity.State{Value: entity.Unavailable(), LastChanged: e.Created()}
	}
	return DecodeValue(e.Value(), e.Created())
}

// DecodeValue parses a stored value. Non-JSON payloads are taken as the bare state string.
func DecodeValue(data []byte, created time.Time) entity.State {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return entity.State{Value: entity.ParseState(string(data)), LastChanged: created}
	}
	st := entity.State{Value: entity.ParseState(rec.State), LastChanged: rec.LastChanged}
	if st.LastChanged.IsZero() {
		st.LastChanged = created
	}
	return st
}
