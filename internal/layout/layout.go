// Package layout loads dashboard layout documents, validates them, and keeps
// them indexed by dashboard ID and by bound entity.
//
// A layout is immutable once loaded. Editing the document on disk produces a
// new Layout value with a new Fingerprint; the store swaps the pointer.
package layout

import (
	"slices"
	"time"
)

// WidgetType names a widget implementation.
type WidgetType string

const (
	WidgetText     WidgetType = "text"
	WidgetSensor   WidgetType = "sensor"
	WidgetGauge    WidgetType = "gauge"
	WidgetToggle   WidgetType = "toggle"
	WidgetEntities WidgetType = "entities"
	WidgetBar      WidgetType = "bar"
	WidgetPie      WidgetType = "pie"
)

// Format is the encoded image format of a rendered dashboard.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatBMP  Format = "bmp"
)

// Ext returns the file extension (without dot) used for published artifacts.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ColorMode selects the pixel depth of the rendered image.
type ColorMode string

const (
	ModeColor     ColorMode = "color"
	ModeGrayscale ColorMode = "grayscale"
	ModeMono      ColorMode = "mono"
)

// Size describes the output raster.
type Size struct {
	Width      int       `yaml:"width" json:"width" toml:"width"`
	Height     int       `yaml:"height" json:"height" toml:"height"`
	Format     Format    `yaml:"format" json:"format" toml:"format"`
	Mode       ColorMode `yaml:"mode" json:"mode" toml:"mode"`
	Rotate     int       `yaml:"rotate" json:"rotate" toml:"rotate"`
	Background string    `yaml:"background" json:"background" toml:"background"`
}

// Widget is one cell of the dashboard grid.
type Widget struct {
	Type      WidgetType `yaml:"type" json:"type" toml:"type"`
	Title     string     `yaml:"title,omitempty" json:"title,omitempty" toml:"title,omitempty"`
	Entity    string     `yaml:"entity,omitempty" json:"entity,omitempty" toml:"entity,omitempty"`
	Entities  []string   `yaml:"entities,omitempty" json:"entities,omitempty" toml:"entities,omitempty"`
	Unit      string     `yaml:"unit,omitempty" json:"unit,omitempty" toml:"unit,omitempty"`
	Precision *int       `yaml:"precision,omitempty" json:"precision,omitempty" toml:"precision,omitempty"`
	Min       *float64   `yaml:"min,omitempty" json:"min,omitempty" toml:"min,omitempty"`
	Max       *float64   `yaml:"max,omitempty" json:"max,omitempty" toml:"max,omitempty"`
	Content   string     `yaml:"content,omitempty" json:"content,omitempty" toml:"content,omitempty"`
	Span      int        `yaml:"span,omitempty" json:"span,omitempty" toml:"span,omitempty"`
	// YLabel names the value axis of a bar chart.
	YLabel     string `yaml:"y_label,omitempty" json:"y_label,omitempty" toml:"y_label,omitempty"`
	ShowLegend *bool  `yaml:"show_legend,omitempty" json:"show_legend,omitempty" toml:"show_legend,omitempty"`
}

// Bindings returns the entity IDs the widget reads, in declaration order.
func (w Widget) Bindings() []string {
	switch w.Type {
	case WidgetText:
		return nil
	case WidgetEntities, WidgetBar, WidgetPie:
		return slices.Clone(w.Entities)
	default:
		if w.Entity == "" {
			return nil
		}
		return []string{w.Entity}
	}
}

// Digits returns the display precision; -1 means shortest exact form.
func (w Widget) Digits() int {
	if w.Precision == nil {
		return -1
	}
	return *w.Precision
}

// Range returns the gauge bounds.
func (w Widget) Range() (lo, hi float64) {
	lo, hi = 0, 100
	if w.Min != nil {
		lo = *w.Min
	}
	if w.Max != nil {
		hi = *w.Max
	}
	return lo, hi
}

// Legend reports whether a chart draws its legend. Charts show one unless
// the layout turns it off.
func (w Widget) Legend() bool {
	return w.ShowLegend == nil || *w.ShowLegend
}

// Layout is a parsed, validated dashboard definition.
type Layout struct {
	ID      string   `yaml:"id" json:"id" toml:"id"`
	Title   string   `yaml:"title,omitempty" json:"title,omitempty" toml:"title,omitempty"`
	Size    Size     `yaml:"size" json:"size" toml:"size"`
	Columns int      `yaml:"columns" json:"columns" toml:"columns"`
	MaxAge  string   `yaml:"max_age,omitempty" json:"max_age,omitempty" toml:"max_age,omitempty"`
	Widgets []Widget `yaml:"widgets" json:"widgets" toml:"widgets"`

	maxAge time.Duration
}

// Bindings returns the sorted, de-duplicated set of entity IDs referenced by
// any widget of the layout.
func (l *Layout) Bindings() []string {
	var ids []string
	for _, w := range l.Widgets {
		ids = append(ids, w.Bindings()...)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// References reports whether the layout binds entityID.
func (l *Layout) References(entityID string) bool {
	_, found := slices.BinarySearch(l.Bindings(), entityID)
	return found
}

// MaxAgeDuration returns the per-dashboard staleness override, zero if unset.
func (l *Layout) MaxAgeDuration() time.Duration { return l.maxAge }
