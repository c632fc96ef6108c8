package render

import "git.home.luguber.info/inful/dashrender/internal/layout"

// Cell is the rectangle assigned to one widget, in pixels.
type Cell struct {
	Widget        int
	X, Y          float64
	Width, Height float64
}

// CenterX returns the horizontal center of the cell.
func (c Cell) CenterX() float64 { return c.X + c.Width/2 }

// CenterY returns the vertical center of the cell.
func (c Cell) CenterY() float64 { return c.Y + c.Height/2 }

// Inset shrinks the cell by d on every side.
func (c Cell) Inset(d float64) Cell {
	return Cell{Widget: c.Widget, X: c.X + d, Y: c.Y + d, Width: c.Width - 2*d, Height: c.Height - 2*d}
}

// Grid places widgets in layout order, left to right, wrapping to a new row
// when a widget's span does not fit. headerHeight is reserved at the top.
func Grid(l *layout.Layout, width, height int, headerHeight, gap float64) []Cell {
	type placement struct{ row, col, span int }
	places := make([]placement, len(l.Widgets))
	row, col := 0, 0
	for i, w := range l.Widgets {
		span := min(max(w.Span, 1), l.Columns)
		if col+span > l.Columns {
			row++
			col = 0
		}
		places[i] = placement{row: row, col: col, span: span}
		col += span
	}
	rows := row + 1
	if len(l.Widgets) == 0 {
		rows = 0
	}

	cols := float64(l.Columns)
	colW := (float64(width) - gap*(cols+1)) / cols
	var rowH float64
	if rows > 0 {
		rowH = (float64(height) - headerHeight - gap*float64(rows+1)) / float64(rows)
	}

	cells := make([]Cell, len(places))
	for i, p := range places {
		cells[i] = Cell{
			Widget: i,
			X:      gap + float64(p.col)*(colW+gap),
			Y:      headerHeight + gap + float64(p.row)*(rowH+gap),
			Width:  float64(p.span)*colW + float64(p.span-1)*gap,
			Height: rowH,
		}
	}
	return cells
}
