package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/publish"
)

// SQLiteStore implements Store and ArtifactStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ Store         = (*SQLiteStore)(nil)
	_ ArtifactStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite-based event store.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrap(ErrDatabaseOpenFailed, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, wrap(ErrInitializeSchemaFailed, err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS render_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dashboard_id TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_render_events_dashboard ON render_events(dashboard_id);
	CREATE INDEX IF NOT EXISTS idx_render_events_timestamp ON render_events(timestamp);

	CREATE TABLE IF NOT EXISTS artifacts (
		dashboard_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		observed_at INTEGER NOT NULL,
		committed_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a new event to the store.
func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if md := e.Metadata(); md != nil {
		var err error
		metadataJSON, err = json.Marshal(md)
		if err != nil {
			return wrap(ErrEventAppendFailed, fmt.Errorf("marshal metadata: %w", err))
		}
	}

	ts := e.Timestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := e.Payload()
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO render_events (dashboard_id, job_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		e.DashboardID(), e.JobID(), e.Type(), ts.UnixMilli(), payload, metadataJSON,
	)
	if err != nil {
		return wrap(ErrEventAppendFailed, err)
	}
	return nil
}

// GetByDashboard retrieves the most recent events of a dashboard, oldest first.
// A non-positive limit returns every event.
func (s *SQLiteStore) GetByDashboard(ctx context.Context, dashboardID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dashboard_id, job_id, event_type, timestamp, payload, metadata FROM (
			SELECT * FROM render_events WHERE dashboard_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`,
		dashboardID, limit,
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// GetRange retrieves events within a time range.
func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, dashboard_id, job_id, event_type, timestamp, payload, metadata FROM render_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

func (s *SQLiteStore) scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e BaseEvent
		var timestampMillis int64
		var metadataJSON []byte

		err := rows.Scan(&e.EventID, &e.EventDashboardID, &e.EventJobID, &e.EventType, &timestampMillis, &e.EventPayload, &metadataJSON)
		if err != nil {
			return nil, wrap(ErrEventQueryFailed, fmt.Errorf("scan event: %w", err))
		}

		e.EventTimestamp = time.UnixMilli(timestampMillis)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.EventMetadata); err != nil {
				return nil, wrap(ErrEventQueryFailed, fmt.Errorf("unmarshal metadata: %w", err))
			}
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, wrap(ErrEventQueryFailed, fmt.Errorf("iterate rows: %w", err))
	}

	return events, nil
}

// RecordArtifact upserts the artifact record of a dashboard.
func (s *SQLiteStore) RecordArtifact(ctx context.Context, a publish.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (dashboard_id, path, fingerprint, content_hash, size, observed_at, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dashboard_id) DO UPDATE SET
			path = excluded.path,
			fingerprint = excluded.fingerprint,
			content_hash = excluded.content_hash,
			size = excluded.size,
			observed_at = excluded.observed_at,
			committed_at = excluded.committed_at`,
		a.DashboardID, a.Path, string(a.Fingerprint), a.ContentHash, a.Size,
		a.ObservedAt.UnixNano(), a.CommittedAt.UnixNano(),
	)
	if err != nil {
		return wrap(ErrArtifactWriteFailed, err)
	}
	return nil
}

// DeleteArtifact removes the artifact record of a dashboard.
func (s *SQLiteStore) DeleteArtifact(ctx context.Context, dashboardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE dashboard_id = ?", dashboardID); err != nil {
		return wrap(ErrArtifactWriteFailed, err)
	}
	return nil
}

// Artifacts returns every recorded artifact, sorted by dashboard ID.
func (s *SQLiteStore) Artifacts(ctx context.Context) ([]publish.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT dashboard_id, path, fingerprint, content_hash, size, observed_at, committed_at FROM artifacts ORDER BY dashboard_id")
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer rows.Close()

	var out []publish.Artifact
	for rows.Next() {
		var a publish.Artifact
		var fp string
		var observed, committed int64
		if err := rows.Scan(&a.DashboardID, &a.Path, &fp, &a.ContentHash, &a.Size, &observed, &committed); err != nil {
			return nil, wrap(ErrEventQueryFailed, fmt.Errorf("scan artifact: %w", err))
		}
		a.Fingerprint = detect.Fingerprint(fp)
		a.ObservedAt = time.Unix(0, observed)
		a.CommittedAt = time.Unix(0, committed)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrEventQueryFailed, fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func wrap(sentinel *errors.ClassifiedError, cause error) error {
	return errors.EventStoreError(sentinel.Message()).WithCause(cause).Build()
}
