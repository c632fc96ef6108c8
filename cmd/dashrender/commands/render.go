package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/detect"
	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/layout"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
	"git.home.luguber.info/inful/dashrender/internal/publish"
	"git.home.luguber.info/inful/dashrender/internal/render"
)

// RenderCmd implements the 'render' command: a one-shot render that does not
// need a running daemon or a state source.
type RenderCmd struct {
	Layout string `required:"" type:"existingfile" help:"Layout document (YAML, JSON or TOML)"`
	State  string `type:"existingfile" help:"YAML file mapping entity IDs to states; omitted entities render as placeholders"`
	Out    string `short:"o" default:"." help:"Directory the image is written to as <id>.<ext>"`
}

func (r *RenderCmd) Run(_ *Global, _ *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, degraded, err := RenderOnce(ctx, r.Layout, r.State, r.Out)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes, fingerprint %s)\n", a.Path, a.Size, a.Fingerprint.Short())
	if degraded > 0 {
		fmt.Printf("%d widget(s) rendered as placeholders\n", degraded)
	}
	return nil
}

// RenderOnce renders the layout at layoutPath with the states of statePath
// and atomically publishes the image into outDir.
func RenderOnce(ctx context.Context, layoutPath, statePath, outDir string) (publish.Artifact, int, error) {
	store := layout.NewStore()
	if _, err := store.LoadFile(layoutPath); err != nil {
		return publish.Artifact{}, 0, err
	}
	ids := store.List()
	l, lfp, err := store.Get(ids[0])
	if err != nil {
		return publish.Artifact{}, 0, err
	}

	src := entity.NewMemorySource()
	if statePath != "" {
		states, err := entity.LoadStateFile(statePath)
		if err != nil {
			return publish.Artifact{}, 0, err
		}
		src.Replace(states)
	}
	bindings := l.Bindings()
	snap, err := src.CurrentSnapshot(ctx, bindings)
	if err != nil {
		return publish.Artifact{}, 0, err
	}

	res, err := render.New().Render(l, snap)
	if err != nil {
		return publish.Artifact{}, 0, err
	}
	if derr := res.DegradedError(); derr != nil {
		slog.Warn("Rendered with placeholders", logfields.DashboardID(l.ID), logfields.Error(derr))
	}

	pub, err := publish.New(outDir, detect.NewTable())
	if err != nil {
		return publish.Artifact{}, 0, err
	}
	a, err := pub.Commit(ctx, publish.Payload{
		DashboardID: l.ID,
		Ext:         l.Size.Format.Ext(),
		Data:        res.Data,
		Fingerprint: detect.Compute(lfp, bindings, snap),
		ObservedAt:  snap.ObservedAt(),
	})
	if err != nil {
		return publish.Artifact{}, 0, err
	}
	return a, len(res.Degraded), nil
}
