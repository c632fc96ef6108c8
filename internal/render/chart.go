package render

import (
	"math"
	"strconv"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/layout"
)

// seriesColors is the categorical palette of color charts.
var seriesColors = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// seriesGrays stay distinguishable after grayscale conversion.
var seriesGrays = []string{"#1f1f1f", "#6e6e6e", "#a8a8a8", "#d4d4d4"}

type seriesStyle struct {
	color  string
	hollow bool
}

// series returns the style of the i-th chart series. Mono panels cannot
// show shades, so every other series is drawn as an outline.
func (p palette) series(i int) seriesStyle {
	switch p.mode {
	case layout.ModeMono:
		return seriesStyle{color: p.fg, hollow: i%2 == 1}
	case layout.ModeGrayscale:
		return seriesStyle{color: seriesGrays[i%len(seriesGrays)]}
	default:
		return seriesStyle{color: seriesColors[i%len(seriesColors)]}
	}
}

// paint fills or strokes the current path in st.
func (p *painter) paint(st seriesStyle) {
	p.dc.SetHexColor(st.color)
	if st.hollow {
		p.dc.SetLineWidth(2)
		p.dc.Stroke()
		return
	}
	p.dc.Fill()
}

type point struct {
	id    string
	value float64
	label string
	style seriesStyle
	ok    bool
}

// chartValues resolves the latest numeric value of every bound entity.
// Unusable entities keep their slot and style but are not plotted.
func (p *painter) chartValues(w layout.Widget, c Cell, snap entity.Snapshot) ([]point, []Degraded) {
	pts := make([]point, len(w.Entities))
	var degraded []Degraded
	for i, id := range w.Entities {
		pts[i] = point{id: id, style: p.pal.series(i)}
		v, reason, ok := lookup(snap, id)
		f, isNum := v.Float()
		if ok && !isNum {
			ok, reason = false, ReasonWrongType
		}
		if !ok {
			degraded = append(degraded, Degraded{Widget: c.Widget, Type: w.Type, EntityID: id, Reason: reason})
			continue
		}
		pts[i].value, pts[i].label, pts[i].ok = f, formatValue(v, w), true
	}
	return pts, degraded
}

// legend draws a swatch and name per point along the bottom of area and
// returns the space left above it.
func (p *painter) legend(area Cell, pts []point) Cell {
	if len(pts) == 0 {
		return area
	}
	cols := min(len(pts), 3)
	rows := (len(pts) + cols - 1) / cols
	rowH := math.Min(area.Height*0.1, 28)
	if float64(rows)*rowH > area.Height*0.4 {
		rowH = area.Height * 0.4 / float64(rows)
	}
	legendH := float64(rows) * rowH
	colW := area.Width / float64(cols)
	swatch := rowH * 0.6

	for i, pt := range pts {
		x := area.X + float64(i%cols)*colW
		y := area.Y + area.Height - legendH + float64(i/cols)*rowH + rowH/2
		p.dc.DrawRectangle(x, y-swatch/2, swatch, swatch)
		p.paint(pt.style)

		name := friendlyName(pt.id)
		p.fitText(name, colW-swatch*1.6, rowH*0.7, false)
		p.dc.SetHexColor(p.pal.fg)
		p.dc.DrawStringAnchored(name, x+swatch*1.4, y, 0, 0.35)
	}
	return Cell{Widget: area.Widget, X: area.X, Y: area.Y, Width: area.Width, Height: area.Height - legendH - rowH*0.3}
}

func anyPlotted(pts []point) bool {
	for _, pt := range pts {
		if pt.ok {
			return true
		}
	}
	return false
}

// barRange spans the data and zero unless min or max pin an end.
func barRange(w layout.Widget, pts []point) (lo, hi float64) {
	for _, pt := range pts {
		if pt.ok {
			lo, hi = math.Min(lo, pt.value), math.Max(hi, pt.value)
		}
	}
	if w.Min != nil {
		lo = *w.Min
	}
	if w.Max != nil {
		hi = *w.Max
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// bar draws one vertical bar per entity from its latest value.
func (p *painter) bar(w layout.Widget, c Cell, snap entity.Snapshot) []Degraded {
	area := p.body(c, w.Title)
	pts, degraded := p.chartValues(w, c, snap)
	if !anyPlotted(pts) {
		p.placeholder(area)
		return degraded
	}

	if w.Legend() {
		area = p.legend(area, pts)
	}
	if w.YLabel != "" {
		labelW := math.Min(area.Width*0.1, 32)
		p.fitText(w.YLabel, area.Height, labelW*0.7, false)
		p.dc.SetHexColor(p.pal.muted)
		p.dc.Push()
		p.dc.RotateAbout(-math.Pi/2, area.X+labelW/2, area.CenterY())
		p.dc.DrawStringAnchored(w.YLabel, area.X+labelW/2, area.CenterY(), 0.5, 0.35)
		p.dc.Pop()
		area = Cell{Widget: area.Widget, X: area.X + labelW, Y: area.Y, Width: area.Width - labelW, Height: area.Height}
	}

	valueH := area.Height * 0.15
	nameH := 0.0
	if !w.Legend() {
		nameH = area.Height * 0.15
	}
	plot := Cell{Widget: area.Widget, X: area.X, Y: area.Y + valueH, Width: area.Width, Height: area.Height - valueH - nameH}

	lo, hi := barRange(w, pts)
	yOf := func(v float64) float64 {
		f := math.Min(math.Max((v-lo)/(hi-lo), 0), 1)
		return plot.Y + plot.Height*(1-f)
	}
	base := yOf(math.Min(math.Max(0, lo), hi))
	slot := plot.Width / float64(len(pts))
	barW := slot * 0.6

	for i, pt := range pts {
		cx := plot.X + slot*(float64(i)+0.5)
		if nameH > 0 {
			name := friendlyName(pt.id)
			p.fitText(name, slot*0.95, nameH*0.7, false)
			p.dc.SetHexColor(p.pal.muted)
			p.dc.DrawStringAnchored(name, cx, plot.Y+plot.Height+nameH/2, 0.5, 0.35)
		}
		if !pt.ok {
			p.fitText(placeholder, slot*0.95, valueH*0.8, true)
			p.dc.SetHexColor(p.pal.muted)
			p.dc.DrawStringAnchored(placeholder, cx, base-2, 0.5, 0)
			continue
		}

		top := yOf(pt.value)
		y0, y1 := math.Min(top, base), math.Max(top, base)
		p.dc.DrawRectangle(cx-barW/2, y0, barW, math.Max(y1-y0, 1))
		p.paint(pt.style)

		p.fitText(pt.label, slot*0.95, valueH*0.8, false)
		p.dc.SetHexColor(p.pal.fg)
		if pt.value >= 0 {
			p.dc.DrawStringAnchored(pt.label, cx, y0-2, 0.5, 0)
		} else {
			p.dc.DrawStringAnchored(pt.label, cx, y1+2, 0.5, 1)
		}
	}

	p.dc.SetHexColor(p.pal.muted)
	p.dc.SetLineWidth(1)
	p.dc.DrawLine(plot.X, base, plot.X+plot.Width, base)
	p.dc.Stroke()
	return degraded
}

// pie draws the positive latest values as shares of their sum, clockwise
// from twelve o'clock. Zero and negative values have no slice.
func (p *painter) pie(w layout.Widget, c Cell, snap entity.Snapshot) []Degraded {
	area := p.body(c, w.Title)
	pts, degraded := p.chartValues(w, c, snap)

	var shares []point
	var total float64
	for _, pt := range pts {
		if pt.ok && pt.value > 0 {
			shares = append(shares, pt)
			total += pt.value
		}
	}
	if total <= 0 {
		p.placeholder(area)
		return degraded
	}

	if w.Legend() {
		area = p.legend(area, shares)
	}
	r := math.Min(area.Width, area.Height) / 2 * 0.92
	cx, cy := area.CenterX(), area.CenterY()

	angle := -math.Pi / 2
	for _, pt := range shares {
		frac := pt.value / total
		end := angle + frac*2*math.Pi

		p.dc.MoveTo(cx, cy)
		p.dc.DrawArc(cx, cy, r, angle, end)
		p.dc.ClosePath()
		p.paint(pt.style)
		if !pt.style.hollow && frac < 1 {
			p.dc.MoveTo(cx, cy)
			p.dc.DrawArc(cx, cy, r, angle, end)
			p.dc.ClosePath()
			p.dc.SetHexColor(p.pal.background)
			p.dc.SetLineWidth(2)
			p.dc.Stroke()
		}

		if frac >= 0.04 {
			label := strconv.FormatFloat(frac*100, 'f', 1, 64) + "%"
			if !w.Legend() {
				label = friendlyName(pt.id) + " " + label
			}
			mid := (angle + end) / 2
			lx, ly := cx+math.Cos(mid)*r*0.62, cy+math.Sin(mid)*r*0.62
			p.fitText(label, r*0.8, r*0.16, true)
			p.dc.SetHexColor(p.labelOn(pt.style))
			p.dc.DrawStringAnchored(label, lx, ly, 0.5, 0.35)
		}
		angle = end
	}
	return degraded
}

// labelOn picks a readable text color for a label drawn over st.
func (p *painter) labelOn(st seriesStyle) string {
	if st.hollow {
		return p.pal.fg
	}
	if luminance(st.color) > 0.6 {
		return "#111827"
	}
	return "#ffffff"
}
