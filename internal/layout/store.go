package layout

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/logfields"
)

type entry struct {
	layout *Layout
	fp     Fingerprint
	path   string
}

// Diff reports how a load changed the set of registered dashboards.
type Diff struct {
	Added   []string
	Changed []string
	// Removed lists dashboards whose document is gone.
	Removed []string
	// Invalidated lists dashboards whose document still exists but no
	// longer validates. They are unregistered; their published artifact
	// is not theirs to lose.
	Invalidated []string
	// Invalid maps document path to its InvalidLayout error.
	Invalid map[string]error
}

// Empty reports whether the load changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0 && len(d.Invalidated) == 0
}

// Store holds the currently valid layouts. Readers never observe a layout
// without its fingerprint, nor a partially loaded document.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	byPath  map[string]string
	invalid map[string]error
	// claims maps an invalid document path to the dashboard ID it declares.
	claims  map[string]string
	reverse map[string][]string
	opts    []ValidateOption
}

// NewStore creates an empty store. Options apply to every validated document.
func NewStore(opts ...ValidateOption) *Store {
	return &Store{
		byID:    make(map[string]*entry),
		byPath:  make(map[string]string),
		invalid: make(map[string]error),
		claims:  make(map[string]string),
		reverse: make(map[string][]string),
		opts:    opts,
	}
}

// Get returns the layout registered under id.
func (s *Store) Get(id string) (*Layout, Fingerprint, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, "", errors.NotFoundError("dashboard not found").WithContext("dashboard_id", id).Build()
	}
	return e.layout, e.fp, nil
}

// List returns the registered dashboard IDs in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.byID))
}

// Len returns the number of registered dashboards.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// DashboardsFor returns the dashboards that bind entityID, sorted.
func (s *Store) DashboardsFor(entityID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.reverse[entityID])
}

// Entities returns every entity ID bound by any registered dashboard, sorted.
func (s *Store) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.reverse))
}

// Invalid returns the documents that failed to load, keyed by path.
func (s *Store) Invalid() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.invalid)
}

// Retained returns the IDs declared by documents that failed to load, sorted.
// Such dashboards are not scheduled, but their last published artifact stays.
func (s *Store) Retained() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Sorted(maps.Values(s.claims))
	return slices.Compact(out)
}

// Put registers a layout built in code. The layout is copied, normalized and
// validated; on error nothing is registered.
func (s *Store) Put(l *Layout) (Fingerprint, error) {
	cp, fp, err := finish(l.clone(), s.opts...)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byID[cp.ID]; ok && prev.path != "" {
		delete(s.byPath, prev.path)
	}
	s.byID[cp.ID] = &entry{layout: cp, fp: fp}
	s.rebuildIndexLocked()
	return fp, nil
}

// Remove unregisters id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if e.path != "" {
		delete(s.byPath, e.path)
	}
	s.rebuildIndexLocked()
	return true
}

// LoadFile (re)loads a single document. If the document is invalid, any
// dashboard previously loaded from the same path is unregistered and
// reported in Diff.Invalidated.
func (s *Store) LoadFile(path string) (Diff, error) {
	path = filepath.Clean(path)
	l, fp, claim, err := s.parseFile(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	diff := Diff{Invalid: map[string]error{}}
	prevID, hadPrev := s.byPath[path]
	if err == nil {
		if other, ok := s.byID[l.ID]; ok && other.path != path && other.path != "" {
			err = duplicateID(l.ID, other.path)
		}
	}
	if err != nil {
		s.invalid[path] = err
		diff.Invalid[path] = err
		if hadPrev {
			claim = prevID
			delete(s.byID, prevID)
			delete(s.byPath, path)
			diff.Invalidated = append(diff.Invalidated, prevID)
		}
		s.claimLocked(path, claim)
		s.rebuildIndexLocked()
		return diff, err
	}

	delete(s.invalid, path)
	delete(s.claims, path)
	if hadPrev && prevID != l.ID {
		delete(s.byID, prevID)
		diff.Removed = append(diff.Removed, prevID)
	}
	switch prev, ok := s.byID[l.ID]; {
	case !ok:
		diff.Added = append(diff.Added, l.ID)
	case prev.fp != fp:
		diff.Changed = append(diff.Changed, l.ID)
	}
	s.byID[l.ID] = &entry{layout: l, fp: fp, path: path}
	s.byPath[path] = l.ID
	s.rebuildIndexLocked()
	return diff, nil
}

// LoadDir reconciles the store with every layout document in dir. Documents
// that fail to load are reported in Diff.Invalid and do not abort the load.
// Layouts registered with Put are left untouched.
func (s *Store) LoadDir(dir string) (Diff, error) {
	paths, err := documentPaths(dir)
	if err != nil {
		return Diff{}, err
	}

	next := make(map[string]*entry)
	nextPath := make(map[string]string)
	invalid := make(map[string]error)
	claims := make(map[string]string)
	for _, p := range paths {
		l, fp, claim, perr := s.parseFile(p)
		if perr == nil {
			if other, ok := next[l.ID]; ok {
				perr = duplicateID(l.ID, other.path)
			}
		}
		if perr != nil {
			invalid[p] = perr
			if claim != "" {
				claims[p] = claim
			}
			slog.Warn("Layout rejected", logfields.Path(p), logfields.Error(perr))
			continue
		}
		next[l.ID] = &entry{layout: l, fp: fp, path: p}
		nextPath[p] = l.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	diff := Diff{Invalid: invalid}
	for id, e := range s.byID {
		if e.path == "" {
			if _, clash := next[id]; !clash {
				next[id] = e
			}
			continue
		}
		if _, ok := next[id]; ok {
			continue
		}
		if _, broken := invalid[e.path]; broken {
			// The document that defined id is still there: it keeps its claim
			// even if the broken text no longer spells the ID.
			claims[e.path] = id
			diff.Invalidated = append(diff.Invalidated, id)
			continue
		}
		diff.Removed = append(diff.Removed, id)
	}
	for p := range invalid {
		if _, ok := claims[p]; !ok {
			if prev, had := s.claims[p]; had {
				claims[p] = prev
			}
		}
	}
	for id, e := range next {
		prev, ok := s.byID[id]
		switch {
		case !ok:
			diff.Added = append(diff.Added, id)
		case prev.fp != e.fp:
			diff.Changed = append(diff.Changed, id)
		}
	}
	slices.Sort(diff.Added)
	slices.Sort(diff.Changed)
	slices.Sort(diff.Removed)
	slices.Sort(diff.Invalidated)

	s.byID = next
	s.byPath = nextPath
	s.invalid = invalid
	s.claims = claims
	s.rebuildIndexLocked()
	return diff, nil
}

// parseFile loads one document. Alongside a failure it returns the dashboard
// ID the document declares, if any.
func (s *Store) parseFile(path string) (*Layout, Fingerprint, string, error) {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	format, ok := FormatForPath(path)
	if !ok {
		return nil, "", "", errors.InvalidLayout("unsupported layout file extension").WithContext("path", path).Build()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", claimedID(nil, format, stem), errors.WrapError(err, errors.CategoryFileSystem, "failed to read layout").
			WithContext("path", path).
			Build()
	}
	l, fp, err := parse(data, format, stem, s.opts...)
	if err != nil {
		claim := claimedID(data, format, stem)
		if ce, ok := errors.AsClassified(err); ok {
			return nil, "", claim, ce.WithContext("path", path)
		}
		return nil, "", claim, err
	}
	return l, fp, l.ID, nil
}

// claimLocked records the ID behind an invalid document. An unreadable ID
// keeps the previous claim.
func (s *Store) claimLocked(path, id string) {
	if id != "" {
		s.claims[path] = id
	}
}

func (s *Store) rebuildIndexLocked() {
	reverse := make(map[string][]string)
	for _, id := range slices.Sorted(maps.Keys(s.byID)) {
		for _, ent := range s.byID[id].layout.Bindings() {
			reverse[ent] = append(reverse[ent], id)
		}
	}
	s.reverse = reverse
}

func duplicateID(id, firstPath string) error {
	return errors.InvalidLayout(fmt.Sprintf("duplicate dashboard id %q (already defined in %s)", id, filepath.Base(firstPath))).
		WithContext("dashboard_id", id).
		Build()
}

// documentPaths lists layout documents in dir, sorted. Hidden files and
// subdirectories are ignored.
func documentPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read layouts directory").
			WithContext("path", dir).
			Build()
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := FormatForPath(name); ok {
			out = append(out, filepath.Join(dir, name))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (l *Layout) clone() *Layout {
	cp := *l
	cp.Widgets = make([]Widget, len(l.Widgets))
	for i, w := range l.Widgets {
		w.Entities = slices.Clone(w.Entities)
		if w.Precision != nil {
			p := *w.Precision
			w.Precision = &p
		}
		if w.Min != nil {
			v := *w.Min
			w.Min = &v
		}
		if w.Max != nil {
			v := *w.Max
			w.Max = &v
		}
		if w.ShowLegend != nil {
			v := *w.ShowLegend
			w.ShowLegend = &v
		}
		cp.Widgets[i] = w
	}
	return &cp
}
