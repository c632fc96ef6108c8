// Package render turns a dashboard layout and an entity snapshot into encoded
// image bytes.
//
// Rendering is a pure function of its inputs: it reads no clock, draws
// widgets in layout order and encodes with fixed parameters, so identical
// inputs always yield identical bytes. Missing or unusable entity values
// never fail a render; the affected widget draws a placeholder and is
// reported in Result.Degraded.
package render

import (
	"fmt"
	"image/png"
	"strings"

	"github.com/fogleman/gg"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/layout"
)

// DegradedReason explains why a widget drew a placeholder.
type DegradedReason string

const (
	ReasonMissing     DegradedReason = "missing"
	ReasonUnavailable DegradedReason = "unavailable"
	ReasonWrongType   DegradedReason = "wrong_type"
)

// Degraded records one placeholder substitution.
type Degraded struct {
	Widget   int
	Type     layout.WidgetType
	EntityID string
	Reason   DegradedReason
}

// Result is an encoded dashboard image.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Degraded    []Degraded
}

// DegradedError summarizes placeholder substitutions as a RenderDegraded
// warning, or nil when every widget rendered normally.
func (r Result) DegradedError() error {
	if len(r.Degraded) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Degraded))
	for _, d := range r.Degraded {
		ids = append(ids, fmt.Sprintf("%s(%s)", d.EntityID, d.Reason))
	}
	return errors.RenderDegraded("placeholders rendered for "+strings.Join(ids, ", ")).
		WithContext("widgets", len(r.Degraded)).
		Build()
}

// Renderer encodes dashboards. It holds only immutable settings and is safe
// for concurrent use.
type Renderer struct {
	jpegQuality    int
	pngCompression png.CompressionLevel
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithJPEGQuality sets the JPEG quality (1-100).
func WithJPEGQuality(q int) Option { return func(r *Renderer) { r.jpegQuality = min(max(q, 1), 100) } }

// WithPNGCompression sets the PNG compression level.
func WithPNGCompression(l png.CompressionLevel) Option {
	return func(r *Renderer) { r.pngCompression = l }
}

// New creates a renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{jpegQuality: 90, pngCompression: png.BestCompression}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws l with values from snap and encodes it per l.Size.
func (r *Renderer) Render(l *layout.Layout, snap entity.Snapshot) (Result, error) {
	if l == nil {
		return Result{}, errors.InvalidLayout("nil layout").Build()
	}
	if l.Size.Width < 1 || l.Size.Height < 1 {
		return Result{}, errors.InvalidLayout(fmt.Sprintf("invalid size %dx%d", l.Size.Width, l.Size.Height)).
			WithContext("dashboard_id", l.ID).
			Build()
	}
	fonts, err := parsedFonts()
	if err != nil {
		return Result{}, errors.RenderError("failed to load fonts").WithCause(err).Build()
	}

	// Compose in the unrotated orientation; a 90/270 rotation swaps the canvas.
	w, h := l.Size.Width, l.Size.Height
	if l.Size.Rotate == 90 || l.Size.Rotate == 270 {
		w, h = h, w
	}

	faces := newFaceCache(fonts)
	defer faces.close()

	p := newPainter(gg.NewContext(w, h), faces, l.Size)
	p.background()

	header := 0.0
	if l.Title != "" {
		header = min(max(float64(h)*0.1, 24), 96)
		p.header(l.Title, float64(w), header)
	}

	gap := min(max(float64(min(w, h))*0.015, 4), 16)
	var degraded []Degraded
	for i, cell := range Grid(l, w, h, header, gap) {
		degraded = append(degraded, p.widget(l.Widgets[i], cell, snap)...)
	}

	img := finish(p.dc.Image(), l.Size.Mode, l.Size.Rotate)
	data, contentType, err := r.encode(img, l.Size.Format)
	if err != nil {
		return Result{}, errors.RenderError("failed to encode image").
			WithCause(err).
			WithContext("dashboard_id", l.ID).
			WithContext("format", string(l.Size.Format)).
			Build()
	}

	b := img.Bounds()
	return Result{
		Data:        data,
		ContentType: contentType,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Degraded:    degraded,
	}, nil
}
