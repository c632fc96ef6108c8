package publish

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

type fakeRegistry struct {
	mu       sync.Mutex
	recorded []Artifact
	deleted  []string
}

func (r *fakeRegistry) RecordArtifact(_ context.Context, a Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, a)
	return nil
}

func (r *fakeRegistry) DeleteArtifact(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func newPublisher(t *testing.T, opts ...Option) (*Publisher, *detect.Table) {
	t.Helper()
	table := detect.NewTable()
	p, err := New(filepath.Join(t.TempDir(), "out"), table, opts...)
	require.NoError(t, err)
	return p, table
}

func payload(id string, data string, observed int64) Payload {
	return Payload{
		DashboardID: id,
		Ext:         "png",
		Data:        []byte(data),
		Fingerprint: detect.Fingerprint("fp-" + data),
		ObservedAt:  time.Unix(observed, 0),
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	return matches
}

func TestCommitPublishesAndRecords(t *testing.T) {
	reg := &fakeRegistry{}
	p, table := newPublisher(t, WithRegistry(reg), WithClock(func() time.Time { return time.Unix(100, 0) }))

	a, err := p.Commit(t.Context(), payload("kitchen", "F1", 10))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(p.Dir(), "kitchen.png"), a.Path)
	require.Equal(t, int64(2), a.Size)
	require.Len(t, a.ContentHash, 64)
	require.Equal(t, time.Unix(100, 0), a.CommittedAt)

	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.Equal(t, "F1", string(data))
	st, err := os.Stat(a.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	rec, ok := table.Load("kitchen")
	require.True(t, ok)
	require.Equal(t, detect.Fingerprint("fp-F1"), rec.Fingerprint)
	require.Equal(t, a.ContentHash, rec.ContentHash)
	require.Len(t, reg.recorded, 1)
	require.Empty(t, tempFiles(t, p.Dir()))

	path, ext, ok := p.Lookup("kitchen")
	require.True(t, ok)
	require.Equal(t, "png", ext)
	require.Equal(t, a.Path, path)
}

func TestCommitDiscardsStaleResult(t *testing.T) {
	p, table := newPublisher(t)
	_, err := p.Commit(t.Context(), payload("kitchen", "newer", 20))
	require.NoError(t, err)

	_, err = p.Commit(t.Context(), payload("kitchen", "older", 10))
	require.ErrorIs(t, err, ErrStaleResult)

	data, err := os.ReadFile(p.Path("kitchen", "png"))
	require.NoError(t, err)
	require.Equal(t, "newer", string(data))
	rec, _ := table.Load("kitchen")
	require.Equal(t, detect.Fingerprint("fp-newer"), rec.Fingerprint)

	// Equal observation time is not stale.
	_, err = p.Commit(t.Context(), payload("kitchen", "same-time", 20))
	require.NoError(t, err)
}

func TestCommitRecoversFromClockStepBack(t *testing.T) {
	p, table := newPublisher(t, WithClock(func() time.Time { return time.Unix(50, 0) }))
	_, err := p.Commit(t.Context(), payload("kitchen", "ahead", 100))
	require.NoError(t, err)

	// Same content observed earlier is still stale.
	_, err = p.Commit(t.Context(), Payload{DashboardID: "kitchen", Ext: "png", Data: []byte("ahead"), Fingerprint: "fp-ahead", ObservedAt: time.Unix(40, 0)})
	require.ErrorIs(t, err, ErrStaleResult)

	_, err = p.Commit(t.Context(), payload("kitchen", "after-step", 40))
	require.NoError(t, err)
	rec, _ := table.Load("kitchen")
	require.Equal(t, detect.Fingerprint("fp-after-step"), rec.Fingerprint)
	require.Equal(t, time.Unix(40, 0), rec.ObservedAt)

	// Once the record is behind the clock the ordering guard applies again.
	_, err = p.Commit(t.Context(), payload("kitchen", "late", 30))
	require.ErrorIs(t, err, ErrStaleResult)
}

func TestCommitFailureKeepsPreviousArtifact(t *testing.T) {
	p, table := newPublisher(t)
	_, err := p.Commit(t.Context(), payload("kitchen", "F1", 1))
	require.NoError(t, err)

	p.write = func(w io.Writer, data []byte) error {
		_, _ = w.Write(data[:1])
		return stderrors.New("disk full")
	}
	_, err = p.Commit(t.Context(), payload("kitchen", "F2-longer", 2))
	require.Error(t, err)
	require.True(t, errors.IsPublishFailure(err))
	require.True(t, errors.IsRetryable(err))

	data, err := os.ReadFile(p.Path("kitchen", "png"))
	require.NoError(t, err)
	require.Equal(t, "F1", string(data))
	require.Empty(t, tempFiles(t, p.Dir()))
	rec, _ := table.Load("kitchen")
	require.Equal(t, detect.Fingerprint("fp-F1"), rec.Fingerprint)
}

func TestCommitCleansLeftoverTemps(t *testing.T) {
	p, _ := newPublisher(t)
	leftover := filepath.Join(p.Dir(), ".kitchen.123456.tmp")
	other := filepath.Join(p.Dir(), ".hall.654321.tmp")
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(other, []byte("partial"), 0o600))

	_, err := p.Commit(t.Context(), payload("kitchen", "F1", 1))
	require.NoError(t, err)
	require.NoFileExists(t, leftover)
	require.FileExists(t, other)
}

func TestCommitFormatChangeRemovesSibling(t *testing.T) {
	p, _ := newPublisher(t)
	_, err := p.Commit(t.Context(), payload("kitchen", "png-bytes", 1))
	require.NoError(t, err)

	pl := payload("kitchen", "jpg-bytes", 2)
	pl.Ext = "jpg"
	_, err = p.Commit(t.Context(), pl)
	require.NoError(t, err)

	require.NoFileExists(t, p.Path("kitchen", "png"))
	require.FileExists(t, p.Path("kitchen", "jpg"))
}

func TestReadersNeverSeePartialFiles(t *testing.T) {
	p, _ := newPublisher(t)
	a := bytes.Repeat([]byte("a"), 256*1024)
	b := bytes.Repeat([]byte("b"), 128*1024)
	_, err := p.Commit(t.Context(), Payload{DashboardID: "kitchen", Ext: "png", Data: a, ObservedAt: time.Unix(0, 0)})
	require.NoError(t, err)

	var stop atomic.Bool
	var bad atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			data, err := os.ReadFile(p.Path("kitchen", "png"))
			if err != nil || !(bytes.Equal(data, a) || bytes.Equal(data, b)) {
				bad.Add(1)
			}
		}
	}()

	for i := range 50 {
		data := a
		if i%2 == 0 {
			data = b
		}
		_, err := p.Commit(t.Context(), Payload{DashboardID: "kitchen", Ext: "png", Data: data, ObservedAt: time.Unix(int64(i+1), 0)})
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()
	require.Zero(t, bad.Load())
}

func TestPrune(t *testing.T) {
	reg := &fakeRegistry{}
	p, table := newPublisher(t, WithRegistry(reg))
	for i, id := range []string{"kitchen", "hall", "garage"} {
		_, err := p.Commit(t.Context(), payload(id, id, int64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), ".garage.42.tmp"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "notes.txt"), []byte("x"), 0o600))

	removed, err := p.Prune(t.Context(), []string{"kitchen"})
	require.NoError(t, err)
	require.Equal(t, []string{"garage", "hall"}, removed)

	require.FileExists(t, p.Path("kitchen", "png"))
	require.NoFileExists(t, p.Path("hall", "png"))
	require.NoFileExists(t, filepath.Join(p.Dir(), ".garage.42.tmp"))
	require.FileExists(t, filepath.Join(p.Dir(), "notes.txt"))

	_, ok := table.Load("hall")
	require.False(t, ok)
	require.ElementsMatch(t, []string{"garage", "hall"}, reg.deleted)
}

func TestRestoreVerifiesContentHash(t *testing.T) {
	p, _ := newPublisher(t)
	a, err := p.Commit(t.Context(), payload("kitchen", "F1", 5))
	require.NoError(t, err)

	fresh := detect.NewTable()
	p2, err := New(p.Dir(), fresh)
	require.NoError(t, err)
	require.True(t, p2.Restore(a))
	rec, ok := fresh.Load("kitchen")
	require.True(t, ok)
	require.Equal(t, a.Fingerprint, rec.Fingerprint)

	require.NoError(t, os.WriteFile(a.Path, []byte("tampered"), 0o644))
	other := detect.NewTable()
	p3, err := New(p.Dir(), other)
	require.NoError(t, err)
	require.False(t, p3.Restore(a))
	_, ok = other.Load("kitchen")
	require.False(t, ok)
}

func TestArtifactID(t *testing.T) {
	tests := map[string]string{
		"kitchen.png":        "kitchen",
		"kitchen.jpg":        "kitchen",
		"my-panel_2.bmp":     "my-panel_2",
		".kitchen.12345.tmp": "kitchen",
	}
	for name, want := range tests {
		id, ok := artifactID(name)
		require.True(t, ok, name)
		require.Equal(t, want, id, name)
	}
	for _, name := range []string{"notes.txt", ".png", ".x.tmp", "kitchen"} {
		_, ok := artifactID(name)
		require.False(t, ok, name)
	}
}
