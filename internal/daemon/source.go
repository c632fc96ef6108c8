package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/entity/natssource"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

// openSource builds the configured state source. The returned closer releases
// its connection or file watcher.
func openSource(ctx context.Context, cfg config.SourceConfig) (entity.Source, func() error, error) {
	switch cfg.Type {
	case config.SourceNATS:
		src, err := natssource.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil

	case config.SourceStatic:
		mem := entity.NewMemorySource()
		if cfg.StaticFile == "" {
			slog.Warn("Static source has no state file; all entities are missing")
			return mem, func() error { return nil }, nil
		}
		states, err := entity.LoadStateFile(cfg.StaticFile)
		if err != nil {
			return nil, nil, err
		}
		mem.Replace(states)
		slog.Info("Loaded static entity states", logfields.Path(cfg.StaticFile), "entities", len(states))

		w, err := newStateFileWatcher(cfg.StaticFile, mem)
		if err != nil {
			return nil, nil, err
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Stop()
			return nil, nil, err
		}
		return mem, w.Stop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported source type %q", cfg.Type)
	}
}
