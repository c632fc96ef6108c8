package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/daemon"
	"git.home.luguber.info/inful/dashrender/internal/version"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Workers int    `help:"Override the number of render workers"`
	Listen  string `help:"Override the HTTP listen address"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if d.Workers > 0 {
		cfg.Workers = d.Workers
	}
	if d.Listen != "" {
		cfg.Server.Listen = d.Listen
	}

	g.Logger = cfg.Log.NewLogger(os.Stderr, root.Verbose)
	slog.SetDefault(g.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunDaemon(ctx, cfg)
}

// RunDaemon runs the daemon until ctx is cancelled.
func RunDaemon(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting dashrender daemon",
		"version", version.Version,
		"layouts_dir", cfg.LayoutsDir,
		"output_dir", cfg.OutputDir,
		"source", string(cfg.Source.Type))

	d, err := daemon.New(cfg, daemon.WithVersion(version.Version))
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
