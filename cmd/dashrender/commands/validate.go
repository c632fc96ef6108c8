package commands

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	Dir string `arg:"" optional:"" type:"existingdir" help:"Layouts directory (defaults to layouts_dir from the configuration)"`
}

func (v *ValidateCmd) Run(_ *Global, root *CLI) error {
	dir := v.Dir
	if dir == "" {
		cfg, err := config.Load(root.Config)
		if err != nil {
			return err
		}
		dir = cfg.LayoutsDir
	}
	return ValidateDir(os.Stdout, dir)
}

// ValidateDir loads every layout document in dir and reports the result.
// It fails with an InvalidLayout error when any document is rejected.
func ValidateDir(w io.Writer, dir string) error {
	store := layout.NewStore()
	diff, err := store.LoadDir(dir)
	if err != nil {
		return err
	}

	for _, id := range store.List() {
		l, fp, _ := store.Get(id)
		_, _ = fmt.Fprintf(w, "ok      %s (%d widgets, %s, fingerprint %s)\n", id, len(l.Widgets), l.Size.Format, fp.Short())
	}
	paths := make([]string, 0, len(diff.Invalid))
	for p := range diff.Invalid {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "invalid %s: %v\n", p, diff.Invalid[p])
	}

	if len(paths) > 0 {
		return errors.InvalidLayout(fmt.Sprintf("%d layout document(s) rejected", len(paths))).
			WithContext("paths", strings.Join(paths, ",")).
			Build()
	}
	return nil
}
