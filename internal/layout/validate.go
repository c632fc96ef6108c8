package layout

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

const maxDimension = 8192

var (
	idPattern       = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	entityPattern   = regexp.MustCompile(`^[a-z_][a-z0-9_]*\.[a-z0-9_]+$`)
	backgroundColor = regexp.MustCompile(`^#[0-9a-f]{6}$`)
)

// Catalog reports whether an entity ID is known to the state source.
type Catalog func(entityID string) bool

type validateOptions struct {
	catalog Catalog
}

// ValidateOption tunes Validate.
type ValidateOption func(*validateOptions)

// WithCatalog rejects bindings to entities the catalog does not know.
func WithCatalog(c Catalog) ValidateOption {
	return func(o *validateOptions) { o.catalog = c }
}

// Validate checks a normalized layout. All problems are collected into a
// single InvalidLayout error.
func Validate(l *Layout, opts ...ValidateOption) error {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if l.ID == "" {
		add("id is required")
	} else if !idPattern.MatchString(l.ID) {
		add("id %q must be lowercase letters, digits, '-' or '_'", l.ID)
	}
	if l.Size.Width < 1 || l.Size.Width > maxDimension || l.Size.Height < 1 || l.Size.Height > maxDimension {
		add("size %dx%d out of range (1..%d)", l.Size.Width, l.Size.Height, maxDimension)
	}
	if l.Size.Rotate%90 != 0 {
		add("size.rotate must be a multiple of 90, got %d", l.Size.Rotate)
	}
	if !backgroundColor.MatchString(l.Size.Background) {
		add("size.background %q must be #rrggbb", l.Size.Background)
	}
	if l.Columns < 1 || l.Columns > 12 {
		add("columns must be between 1 and 12, got %d", l.Columns)
	}
	if l.maxAge < 0 {
		add("max_age must not be negative")
	}
	if len(l.Widgets) == 0 {
		add("at least one widget is required")
	}

	for i, w := range l.Widgets {
		where := fmt.Sprintf("widgets[%d] (%s)", i, w.Type)
		if w.Span < 1 || w.Span > l.Columns {
			add("%s: span %d must be between 1 and columns (%d)", where, w.Span, l.Columns)
		}
		if w.Precision != nil && (*w.Precision < 0 || *w.Precision > 6) {
			add("%s: precision must be between 0 and 6", where)
		}

		switch w.Type {
		case WidgetText:
			if w.Content == "" && w.Title == "" {
				add("%s: content or title is required", where)
			}
			if w.Entity != "" || len(w.Entities) > 0 {
				add("%s: text widgets take no entity binding", where)
			}
		case WidgetEntities, WidgetBar, WidgetPie:
			// List-bound widgets.
			if len(w.Entities) == 0 {
				add("%s: entities list is required", where)
			}
			if w.Entity != "" {
				add("%s: use entities, not entity", where)
			}
		default:
			if w.Entity == "" {
				add("%s: entity binding is required", where)
			}
			if len(w.Entities) > 0 {
				add("%s: use entity, not entities", where)
			}
		}
		finite := true
		for _, b := range []struct {
			name string
			v    *float64
		}{{"min", w.Min}, {"max", w.Max}} {
			if b.v != nil && (math.IsNaN(*b.v) || math.IsInf(*b.v, 0)) {
				finite = false
				add("%s: %s must be a finite number", where, b.name)
			}
		}
		switch {
		case !finite:
		case w.Type == WidgetGauge:
			lo, hi := w.Range()
			if hi <= lo {
				add("%s: max (%g) must be greater than min (%g)", where, hi, lo)
			}
		case w.Type == WidgetBar && w.Min != nil && w.Max != nil && *w.Max <= *w.Min:
			add("%s: max (%g) must be greater than min (%g)", where, *w.Max, *w.Min)
		}
		if w.YLabel != "" && w.Type != WidgetBar {
			add("%s: y_label applies to bar charts only", where)
		}
		if w.ShowLegend != nil && w.Type != WidgetBar && w.Type != WidgetPie {
			add("%s: show_legend applies to charts only", where)
		}

		for _, id := range w.Bindings() {
			switch {
			case !entityPattern.MatchString(id):
				add("%s: dangling entity binding %q", where, id)
			case o.catalog != nil && !o.catalog(id):
				add("%s: entity %q is not known to the state source", where, id)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.InvalidLayout(strings.Join(problems, "; ")).
		WithContext("dashboard_id", l.ID).
		WithContext("problems", len(problems)).
		Build()
}
