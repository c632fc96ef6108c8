// Package publish commits rendered dashboards to the output directory.
//
// Every dashboard has exactly one published path, <dir>/<id>.<ext>. A commit
// writes a hidden temp file next to it, fsyncs it and renames it over the
// published path, so readers see either the previous artifact or the new
// one, never a partial file.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

// ErrStaleResult is returned when a result observed before the currently
// published artifact arrives late. The published artifact is left alone,
// unless its own observation time lies ahead of the clock.
var ErrStaleResult = stderrors.New("render result is older than the published artifact")

// extensions lists every artifact extension the publisher manages.
var extensions = []string{layout.FormatPNG.Ext(), layout.FormatJPEG.Ext(), layout.FormatBMP.Ext()}

// Artifact describes a committed image.
type Artifact struct {
	DashboardID string             `json:"dashboard_id"`
	Path        string             `json:"path"`
	Fingerprint detect.Fingerprint `json:"fingerprint"`
	ContentHash string             `json:"content_hash"`
	Size        int64              `json:"size"`
	ObservedAt  time.Time          `json:"observed_at"`
	CommittedAt time.Time          `json:"committed_at"`
}

// Payload is one render result ready to commit.
type Payload struct {
	DashboardID string
	Ext         string
	Data        []byte
	Fingerprint detect.Fingerprint
	ObservedAt  time.Time
}

// Registry persists artifact records across restarts.
type Registry interface {
	RecordArtifact(ctx context.Context, a Artifact) error
	DeleteArtifact(ctx context.Context, dashboardID string) error
}

// Publisher writes artifacts. Commits for different dashboards proceed in
// parallel; commits for one dashboard are serialized.
type Publisher struct {
	dir      string
	table    *detect.Table
	registry Registry
	now      func() time.Time
	locks    sync.Map // dashboard ID -> *sync.Mutex

	// write is replaced in tests to inject I/O faults.
	write func(w io.Writer, data []byte) error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRegistry records every commit in r.
func WithRegistry(r Registry) Option { return func(p *Publisher) { p.registry = r } }

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }

// New creates a publisher for dir, creating it if necessary. Successful
// commits are recorded in table.
func New(dir string, table *detect.Table, opts ...Option) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create output directory").
			WithContext("path", dir).
			Build()
	}
	p := &Publisher{
		dir:   dir,
		table: table,
		now:   time.Now,
		write: func(w io.Writer, data []byte) error {
			_, err := w.Write(data)
			return err
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dir returns the output directory.
func (p *Publisher) Dir() string { return p.dir }

// Path returns the published path of a dashboard for an extension.
func (p *Publisher) Path(dashboardID, ext string) string {
	return filepath.Join(p.dir, dashboardID+"."+ext)
}

func (p *Publisher) lock(id string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Commit atomically replaces the dashboard's published artifact.
func (p *Publisher) Commit(ctx context.Context, pl Payload) (Artifact, error) {
	mu := p.lock(pl.DashboardID)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if rec, ok := p.table.Load(pl.DashboardID); ok && pl.ObservedAt.Before(rec.ObservedAt) {
		now := p.now()
		if !rec.ObservedAt.After(now) || rec.Fingerprint == pl.Fingerprint {
			return Artifact{}, ErrStaleResult
		}
		// A record observed in the future means the clock stepped back; holding
		// on to it would discard every later result.
		slog.Warn("Published artifact is ahead of the clock; accepting older observation",
			logfields.DashboardID(pl.DashboardID),
			slog.Time("recorded_observed_at", rec.ObservedAt),
			slog.Duration("skew", rec.ObservedAt.Sub(now)))
	}

	p.cleanupTemps(pl.DashboardID)

	final := p.Path(pl.DashboardID, pl.Ext)
	if err := p.writeAtomic(final, pl); err != nil {
		return Artifact{}, errors.PublishFailure("failed to publish artifact").
			WithCause(err).
			WithContext("dashboard_id", pl.DashboardID).
			WithContext("path", final).
			Build()
	}
	p.removeSiblings(pl.DashboardID, pl.Ext)

	sum := sha256.Sum256(pl.Data)
	a := Artifact{
		DashboardID: pl.DashboardID,
		Path:        final,
		Fingerprint: pl.Fingerprint,
		ContentHash: hex.EncodeToString(sum[:]),
		Size:        int64(len(pl.Data)),
		ObservedAt:  pl.ObservedAt,
		CommittedAt: p.now(),
	}
	p.table.Store(pl.DashboardID, detect.Record{
		Fingerprint: a.Fingerprint,
		ContentHash: a.ContentHash,
		ObservedAt:  a.ObservedAt,
		CommittedAt: a.CommittedAt,
	})

	if p.registry != nil {
		if err := p.registry.RecordArtifact(ctx, a); err != nil {
			slog.Warn("Failed to record artifact", logfields.DashboardID(a.DashboardID), logfields.Error(err))
		}
	}
	return a, nil
}

func (p *Publisher) writeAtomic(final string, pl Payload) (err error) {
	f, err := os.CreateTemp(p.dir, "."+pl.DashboardID+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = p.write(f, pl.Data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	if err = os.Rename(tmp, final); err != nil {
		return err
	}
	if derr := syncDir(p.dir); derr != nil {
		slog.Debug("Directory fsync failed", logfields.Path(p.dir), logfields.Error(derr))
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// cleanupTemps removes temp files left behind by an aborted commit.
func (p *Publisher) cleanupTemps(id string) {
	matches, _ := filepath.Glob(filepath.Join(p.dir, "."+id+".*.tmp"))
	for _, m := range matches {
		// ".<id>.<random>.tmp" must not match dashboards whose IDs extend id.
		middle := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "."+id+"."), ".tmp")
		if strings.Contains(middle, ".") {
			continue
		}
		if err := os.Remove(m); err == nil {
			slog.Info("Removed leftover temp file", logfields.DashboardID(id), logfields.Path(m))
		}
	}
}

// removeSiblings deletes artifacts of id with another extension, left over
// from a format change.
func (p *Publisher) removeSiblings(id, keepExt string) {
	for _, ext := range extensions {
		if ext == keepExt {
			continue
		}
		path := p.Path(id, ext)
		if err := os.Remove(path); err == nil {
			slog.Info("Removed superseded artifact", logfields.DashboardID(id), logfields.Path(path))
		}
	}
}

// Lookup finds the published artifact of a dashboard on disk.
func (p *Publisher) Lookup(id string) (string, string, bool) {
	for _, ext := range extensions {
		candidate := p.Path(id, ext)
		if st, err := os.Stat(candidate); err == nil && st.Mode().IsRegular() {
			return candidate, ext, true
		}
	}
	return "", "", false
}

// Restore seeds the detector table from a persisted artifact record, but only
// if the file on disk still hashes to the recorded content hash.
func (p *Publisher) Restore(a Artifact) bool {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != a.ContentHash {
		slog.Warn("Published artifact does not match its record; will re-render",
			logfields.DashboardID(a.DashboardID), logfields.Path(a.Path))
		return false
	}
	p.table.Store(a.DashboardID, detect.Record{
		Fingerprint: a.Fingerprint,
		ContentHash: a.ContentHash,
		ObservedAt:  a.ObservedAt,
		CommittedAt: a.CommittedAt,
	})
	return true
}

// Prune removes artifacts and temp files of dashboards not in keep and
// returns the removed dashboard IDs.
func (p *Publisher) Prune(ctx context.Context, keep []string) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read output directory").
			WithContext("path", p.dir).
			Build()
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		id, ok := artifactID(name)
		if !ok || slices.Contains(keep, id) {
			continue
		}
		mu := p.lock(id)
		mu.Lock()
		err := os.Remove(filepath.Join(p.dir, name))
		mu.Unlock()
		if err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to prune artifact", logfields.Path(name), logfields.Error(err))
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		p.table.Delete(id)
		if p.registry != nil {
			if err := p.registry.DeleteArtifact(ctx, id); err != nil {
				slog.Warn("Failed to delete artifact record", logfields.DashboardID(id), logfields.Error(err))
			}
		}
		if !slices.Contains(removed, id) {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed, nil
}

// artifactID extracts the dashboard ID from a managed file name: either a
// published "<id>.<ext>" or a temp ".<id>.<random>.tmp".
func artifactID(name string) (string, bool) {
	if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
		rest := strings.TrimSuffix(strings.TrimPrefix(name, "."), ".tmp")
		i := strings.LastIndex(rest, ".")
		if i <= 0 {
			return "", false
		}
		return rest[:i], true
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if !slices.Contains(extensions, ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, "."+ext)
	return id, id != ""
}
