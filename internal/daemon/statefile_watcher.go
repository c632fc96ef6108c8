package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

// stateFileWatcher reloads a static state file into a MemorySource whenever
// it changes on disk. Replace notifies subscribers of every changed entity.
type stateFileWatcher struct {
	path         string
	source       *entity.MemorySource
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	once         sync.Once
}

func newStateFileWatcher(path string, source *entity.MemorySource) (*stateFileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to resolve state file path: %w", err)
	}
	return &stateFileWatcher{
		path:         abs,
		source:       source,
		watcher:      w,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 250 * time.Millisecond,
	}, nil
}

// Start watches the state file's directory; editors often replace files by rename.
func (sw *stateFileWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(sw.path)
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch state file directory %s: %w", dir, err)
	}
	go sw.watchLoop(ctx)
	go sw.reloadLoop(ctx)
	return nil
}

// Stop ends both loops and closes the fsnotify watcher.
func (sw *stateFileWatcher) Stop() error {
	var err error
	sw.once.Do(func() {
		close(sw.stopChan)
		err = sw.watcher.Close()
	})
	return err
}

func (sw *stateFileWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(sw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopChan:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				select {
				case sw.reloadChan <- struct{}{}:
				default:
				}
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("State file watcher error", logfields.Error(err))
		}
	}
}

func (sw *stateFileWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopChan:
			return
		case <-sw.reloadChan:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(sw.debounceTime, sw.reload)
		}
	}
}

func (sw *stateFileWatcher) reload() {
	states, err := entity.LoadStateFile(sw.path)
	if err != nil {
		// Keep the previous states; a half-written file is retried on the next event.
		slog.Warn("Failed to reload state file", logfields.Path(sw.path), logfields.Error(err))
		return
	}
	sw.source.Replace(states)
	slog.Debug("Reloaded state file", logfields.Path(sw.path), "entities", len(states))
}
