package render

import (
	"math"
	"strconv"
	"strings"

	"github.com/fogleman/gg"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/layout"
)

const placeholder = "--"

type palette struct {
	background string
	fg         string
	muted      string
	accent     string
	mode       layout.ColorMode
}

func paletteFor(size layout.Size) palette {
	p := palette{background: size.Background, fg: "#111827", muted: "#6b7280", accent: "#2563eb", mode: size.Mode}
	if luminance(size.Background) < 0.5 {
		p.fg, p.muted, p.accent = "#f9fafb", "#9ca3af", "#60a5fa"
	}
	if size.Mode != layout.ModeColor {
		p.accent = p.fg
	}
	return p
}

// luminance returns the relative luminance of a #rrggbb color in [0,1].
func luminance(hex string) float64 {
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 1
	}
	r, g, b := float64(v>>16&0xff), float64(v>>8&0xff), float64(v&0xff)
	return (0.2126*r + 0.7152*g + 0.0722*b) / 255
}

type painter struct {
	dc    *gg.Context
	faces *faceCache
	pal   palette
}

func newPainter(dc *gg.Context, faces *faceCache, size layout.Size) *painter {
	return &painter{dc: dc, faces: faces, pal: paletteFor(size)}
}

func (p *painter) background() {
	p.dc.SetHexColor(p.pal.background)
	p.dc.Clear()
}

func (p *painter) header(title string, width, height float64) {
	pad := height * 0.25
	p.fitText(title, width-2*pad, height*0.55, true)
	p.dc.SetHexColor(p.pal.fg)
	p.dc.DrawStringAnchored(title, pad, height/2, 0, 0.35)

	p.dc.SetHexColor(p.pal.muted)
	p.dc.SetLineWidth(1)
	p.dc.DrawLine(pad, height-0.5, width-pad, height-0.5)
	p.dc.Stroke()
}

// fitText selects the largest face no taller than maxH whose rendering of s
// fits in maxW.
func (p *painter) fitText(s string, maxW, maxH float64, bold bool) {
	size := math.Max(maxH, 8)
	for {
		p.dc.SetFontFace(p.faces.face(size, bold))
		w, _ := p.dc.MeasureString(s)
		if w <= maxW || size <= 8 {
			return
		}
		size = math.Min(size-1, size*maxW/w)
	}
}

func (p *painter) frame(c Cell) {
	p.dc.SetHexColor(p.pal.muted)
	p.dc.SetLineWidth(2)
	p.dc.DrawRoundedRectangle(c.X+1, c.Y+1, c.Width-2, c.Height-2, math.Min(c.Width, c.Height)*0.05)
	p.dc.Stroke()
}

// body draws the widget title and returns the area left for content.
func (p *painter) body(c Cell, title string) Cell {
	inner := c.Inset(math.Min(c.Width, c.Height) * 0.08)
	if title == "" {
		return inner
	}
	titleH := inner.Height * 0.2
	p.fitText(title, inner.Width, titleH*0.8, false)
	p.dc.SetHexColor(p.pal.muted)
	p.dc.DrawStringAnchored(title, inner.X, inner.Y+titleH/2, 0, 0.35)
	return Cell{Widget: c.Widget, X: inner.X, Y: inner.Y + titleH, Width: inner.Width, Height: inner.Height - titleH}
}

func (p *painter) placeholder(area Cell) {
	p.fitText(placeholder, area.Width, area.Height*0.5, true)
	p.dc.SetHexColor(p.pal.muted)
	p.dc.DrawStringAnchored(placeholder, area.CenterX(), area.CenterY(), 0.5, 0.35)
}

// lookup resolves id in snap, reporting why it is unusable if so.
func lookup(snap entity.Snapshot, id string) (entity.Value, DegradedReason, bool) {
	st, ok := snap.Get(id)
	if !ok {
		return entity.Value{}, ReasonMissing, false
	}
	if !st.Value.IsAvailable() {
		return st.Value, ReasonUnavailable, false
	}
	return st.Value, "", true
}

func (p *painter) widget(w layout.Widget, c Cell, snap entity.Snapshot) []Degraded {
	p.frame(c)
	degrade := func(id string, reason DegradedReason) []Degraded {
		return []Degraded{{Widget: c.Widget, Type: w.Type, EntityID: id, Reason: reason}}
	}

	switch w.Type {
	case layout.WidgetText:
		p.text(w, c)
		return nil

	case layout.WidgetEntities:
		return p.entities(w, c, snap)

	case layout.WidgetBar:
		return p.bar(w, c, snap)

	case layout.WidgetPie:
		return p.pie(w, c, snap)

	case layout.WidgetSensor:
		area := p.body(c, titleOf(w))
		v, reason, ok := lookup(snap, w.Entity)
		if !ok {
			p.placeholder(area)
			return degrade(w.Entity, reason)
		}
		s := formatValue(v, w)
		p.fitText(s, area.Width, area.Height*0.6, true)
		p.dc.SetHexColor(p.pal.fg)
		p.dc.DrawStringAnchored(s, area.CenterX(), area.CenterY(), 0.5, 0.35)
		return nil

	case layout.WidgetGauge:
		area := p.body(c, titleOf(w))
		v, reason, ok := lookup(snap, w.Entity)
		f, isNum := v.Float()
		if ok && !isNum {
			ok, reason = false, ReasonWrongType
		}
		if !ok {
			p.placeholder(area)
			return degrade(w.Entity, reason)
		}
		p.gauge(w, area, f, formatValue(v, w))
		return nil

	case layout.WidgetToggle:
		area := p.body(c, titleOf(w))
		v, reason, ok := lookup(snap, w.Entity)
		on, isBool := v.Bool()
		if ok && !isBool {
			ok, reason = false, ReasonWrongType
		}
		if !ok {
			p.placeholder(area)
			return degrade(w.Entity, reason)
		}
		p.toggle(area, on)
		return nil
	}
	return nil
}

func (p *painter) text(w layout.Widget, c Cell) {
	area := p.body(c, w.Title)
	content := w.Content
	if content == "" {
		return
	}
	size := area.Height / 3
	for {
		p.dc.SetFontFace(p.faces.face(size, false))
		lines := p.dc.WordWrap(content, area.Width)
		if float64(len(lines))*size*1.3 <= area.Height || size <= 8 {
			break
		}
		size = math.Max(size*0.85, 8)
	}
	p.dc.SetHexColor(p.pal.fg)
	p.dc.DrawStringWrapped(content, area.X, area.Y, 0, 0, area.Width, 1.3, gg.AlignLeft)
}

func (p *painter) gauge(w layout.Widget, area Cell, value float64, label string) {
	lo, hi := w.Range()
	frac := (value - lo) / (hi - lo)
	frac = math.Min(math.Max(frac, 0), 1)

	textArea := Cell{X: area.X, Y: area.Y, Width: area.Width, Height: area.Height * 0.55}
	p.fitText(label, textArea.Width, textArea.Height*0.8, true)
	p.dc.SetHexColor(p.pal.fg)
	p.dc.DrawStringAnchored(label, textArea.CenterX(), textArea.CenterY(), 0.5, 0.35)

	barH := math.Min(area.Height*0.22, 48)
	barY := area.Y + area.Height*0.7 - barH/2
	r := barH / 2
	if frac > 0 {
		p.dc.SetHexColor(p.pal.accent)
		p.dc.DrawRoundedRectangle(area.X, barY, math.Max(area.Width*frac, barH), barH, r)
		p.dc.Fill()
	}
	p.dc.SetHexColor(p.pal.fg)
	p.dc.SetLineWidth(2)
	p.dc.DrawRoundedRectangle(area.X, barY, area.Width, barH, r)
	p.dc.Stroke()
}

func (p *painter) toggle(area Cell, on bool) {
	pillW := math.Min(area.Width*0.5, area.Height*1.1)
	pillH := pillW / 2
	x := area.CenterX() - pillW/2
	y := area.Y + area.Height*0.4 - pillH/2
	r := pillH / 2

	p.dc.SetLineWidth(2)
	if on {
		p.dc.SetHexColor(p.pal.accent)
		p.dc.DrawRoundedRectangle(x, y, pillW, pillH, r)
		p.dc.Fill()
		p.dc.SetHexColor(p.pal.background)
		p.dc.DrawCircle(x+pillW-r, y+r, r*0.75)
		p.dc.Fill()
	} else {
		p.dc.SetHexColor(p.pal.fg)
		p.dc.DrawRoundedRectangle(x, y, pillW, pillH, r)
		p.dc.Stroke()
		p.dc.DrawCircle(x+r, y+r, r*0.75)
		p.dc.Fill()
	}

	label := "OFF"
	if on {
		label = "ON"
	}
	p.fitText(label, area.Width, area.Height*0.2, true)
	p.dc.SetHexColor(p.pal.fg)
	p.dc.DrawStringAnchored(label, area.CenterX(), area.Y+area.Height*0.85, 0.5, 0.35)
}

func (p *painter) entities(w layout.Widget, c Cell, snap entity.Snapshot) []Degraded {
	area := p.body(c, w.Title)
	var degraded []Degraded
	rowH := area.Height / float64(len(w.Entities))
	for i, id := range w.Entities {
		y := area.Y + rowH*(float64(i)+0.5)
		name := friendlyName(id)
		value := placeholder
		valueColor := p.pal.fg
		v, reason, ok := lookup(snap, id)
		if ok {
			value = formatValue(v, w)
		} else {
			valueColor = p.pal.muted
			degraded = append(degraded, Degraded{Widget: c.Widget, Type: w.Type, EntityID: id, Reason: reason})
		}

		p.fitText(name, area.Width*0.6, rowH*0.6, false)
		p.dc.SetHexColor(p.pal.fg)
		p.dc.DrawStringAnchored(name, area.X, y, 0, 0.35)

		p.fitText(value, area.Width*0.38, rowH*0.6, true)
		p.dc.SetHexColor(valueColor)
		p.dc.DrawStringAnchored(value, area.X+area.Width, y, 1, 0.35)
	}
	return degraded
}

func titleOf(w layout.Widget) string {
	if w.Title != "" {
		return w.Title
	}
	return friendlyName(w.Entity)
}

// friendlyName turns "sensor.kitchen_temperature" into "kitchen temperature".
func friendlyName(id string) string {
	if _, object, ok := strings.Cut(id, "."); ok {
		id = object
	}
	return strings.ReplaceAll(id, "_", " ")
}

func formatValue(v entity.Value, w layout.Widget) string {
	f, ok := v.Float()
	if !ok {
		return v.Text()
	}
	s := entity.FormatFloat(f, w.Digits())
	if w.Unit != "" {
		s += " " + w.Unit
	}
	return s
}
