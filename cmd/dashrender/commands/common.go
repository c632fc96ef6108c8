package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/dashrender/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"dashrender.yaml" env:"DASHRENDER_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon   DaemonCmd   `cmd:"" help:"Watch layouts and entity states and keep dashboard images current"`
	Render   RenderCmd   `cmd:"" help:"Render one layout against a state file and exit"`
	Validate ValidateCmd `cmd:"" help:"Validate layout documents"`
	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing and installs a default logger. The
// daemon replaces it once the configured format and level are known.
func (c *CLI) AfterApply(g *Global) error {
	g.Logger = config.LogConfig{}.NewLogger(os.Stderr, c.Verbose)
	slog.SetDefault(g.Logger)
	return nil
}
