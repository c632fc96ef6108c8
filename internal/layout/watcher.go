package layout

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

// DefaultDebounce absorbs the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors the layouts directory and reloads the store on changes.
type Watcher struct {
	dir          string
	store        *Store
	onChange     func(Diff)
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	stopped      bool
}

// NewWatcher creates a watcher for dir. onChange receives every non-empty diff
// and every diff that reports invalid documents.
func NewWatcher(dir string, store *Store, onChange func(Diff)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to resolve layouts path: %w", err)
	}
	return &Watcher{
		dir:          absDir,
		store:        store,
		onChange:     onChange,
		watcher:      w,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: DefaultDebounce,
	}, nil
}

// WithDebounce overrides the quiet period before a reload.
func (lw *Watcher) WithDebounce(d time.Duration) *Watcher {
	lw.debounceTime = d
	return lw
}

// Start begins monitoring.
func (lw *Watcher) Start(ctx context.Context) error {
	if err := lw.watcher.Add(lw.dir); err != nil {
		return fmt.Errorf("failed to watch layouts directory %s: %w", lw.dir, err)
	}
	slog.Info("Starting layout watcher", logfields.Path(lw.dir))

	go lw.watchLoop(ctx)
	go lw.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (lw *Watcher) Stop() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.stopped {
		return nil
	}
	lw.stopped = true
	close(lw.stopChan)
	return lw.watcher.Close()
}

func (lw *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-lw.stopChan:
			return
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if _, isLayout := FormatForPath(event.Name); !isLayout {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Debug("Layout change detected", logfields.Path(event.Name), "op", event.Op.String())
				lw.triggerReload()
			}
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Layout watcher error", logfields.Error(err))
		}
	}
}

func (lw *Watcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer
	stopTimer := func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-lw.stopChan:
			stopTimer()
			return
		case <-lw.reloadChan:
			stopTimer()
			reloadTimer = time.AfterFunc(lw.debounceTime, lw.reload)
		}
	}
}

func (lw *Watcher) triggerReload() {
	select {
	case lw.reloadChan <- struct{}{}:
	default:
	}
}

func (lw *Watcher) reload() {
	diff, err := lw.store.LoadDir(lw.dir)
	if err != nil {
		slog.Error("Failed to reload layouts", logfields.Path(lw.dir), logfields.Error(err))
		return
	}
	slog.Info("Layouts reloaded",
		slog.Int("added", len(diff.Added)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("removed", len(diff.Removed)),
		slog.Int("invalidated", len(diff.Invalidated)),
		slog.Int("invalid", len(diff.Invalid)))
	if lw.onChange != nil && (!diff.Empty() || len(diff.Invalid) > 0) {
		lw.onChange(diff)
	}
}
