package layout

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/foundation/normalization"
)

const (
	DefaultWidth      = 1200
	DefaultHeight     = 800
	DefaultColumns    = 2
	DefaultBackground = "#ffffff"
)

var formatNormalizer = normalization.NewNormalizer(map[string]Format{
	"png":  FormatPNG,
	"jpeg": FormatJPEG,
	"jpg":  FormatJPEG,
	"bmp":  FormatBMP,
}, FormatPNG)

var modeNormalizer = normalization.NewNormalizer(map[string]ColorMode{
	"color":     ModeColor,
	"colour":    ModeColor,
	"grayscale": ModeGrayscale,
	"greyscale": ModeGrayscale,
	"gray":      ModeGrayscale,
	"mono":      ModeMono,
	"bw":        ModeMono,
}, ModeColor)

var widgetNormalizer = normalization.NewNormalizer(map[string]WidgetType{
	"text":     WidgetText,
	"markdown": WidgetText,
	"sensor":   WidgetSensor,
	"gauge":    WidgetGauge,
	"toggle":   WidgetToggle,
	"switch":   WidgetToggle,
	"entities": WidgetEntities,
	"bar":      WidgetBar,
	"pie":      WidgetPie,
}, "")

// normalize canonicalizes spellings and fills defaults so that two documents
// meaning the same dashboard produce the same fingerprint.
func (l *Layout) normalize() error {
	l.ID = strings.TrimSpace(l.ID)
	l.Title = strings.TrimSpace(l.Title)

	var err error
	if l.Size.Format, err = formatNormalizer.Parse(string(l.Size.Format)); err != nil {
		return invalid(l.ID, "size.format", err)
	}
	if l.Size.Mode, err = modeNormalizer.Parse(string(l.Size.Mode)); err != nil {
		return invalid(l.ID, "size.mode", err)
	}
	if l.Size.Width == 0 {
		l.Size.Width = DefaultWidth
	}
	if l.Size.Height == 0 {
		l.Size.Height = DefaultHeight
	}
	l.Size.Background = strings.ToLower(strings.TrimSpace(l.Size.Background))
	if l.Size.Background == "" {
		l.Size.Background = DefaultBackground
	}
	l.Size.Rotate = ((l.Size.Rotate % 360) + 360) % 360
	if l.Columns == 0 {
		l.Columns = DefaultColumns
	}

	l.MaxAge = strings.TrimSpace(l.MaxAge)
	if l.MaxAge != "" {
		d, perr := time.ParseDuration(l.MaxAge)
		if perr != nil {
			return invalid(l.ID, "max_age", perr)
		}
		l.maxAge = d
		l.MaxAge = d.String()
	}

	for i := range l.Widgets {
		w := &l.Widgets[i]
		raw := string(w.Type)
		w.Type = widgetNormalizer.Normalize(raw)
		if w.Type == "" {
			if strings.TrimSpace(raw) == "" {
				return invalid(l.ID, fmt.Sprintf("widgets[%d].type", i), fmt.Errorf("missing widget type"))
			}
			return invalid(l.ID, fmt.Sprintf("widgets[%d].type", i),
				fmt.Errorf("unknown widget type %q, valid options: %s", raw, strings.Join(widgetNormalizer.ValidKeys(), ", ")))
		}
		w.Title = strings.TrimSpace(w.Title)
		w.YLabel = strings.TrimSpace(w.YLabel)
		w.Entity = strings.TrimSpace(w.Entity)
		for j := range w.Entities {
			w.Entities[j] = strings.TrimSpace(w.Entities[j])
		}
		if w.Span == 0 {
			w.Span = 1
		}
		switch w.Type {
		case WidgetGauge:
			lo, hi := w.Range()
			w.Min, w.Max = &lo, &hi
		case WidgetBar, WidgetPie:
			legend := w.Legend()
			w.ShowLegend = &legend
		}
	}
	return nil
}

func invalid(id, field string, cause error) error {
	return errors.InvalidLayout("invalid layout field "+field).
		WithCause(cause).
		WithContext("dashboard_id", id).
		WithContext("field", field).
		Build()
}
