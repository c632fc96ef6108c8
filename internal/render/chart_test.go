package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/layout"
)

const chartLayout = `
id: energy
size: {width: 480, height: 240}
columns: 2
widgets:
  - type: bar
    title: Power
    y_label: W
    entities: [sensor.heat_pump, sensor.oven, sensor.export]
  - type: pie
    entities: [sensor.solar, sensor.grid, sensor.battery]
    show_legend: false
`

func chartSnapshot(heatPump float64) entity.Snapshot {
	return snapshotOf(map[string]entity.Value{
		"sensor.heat_pump": entity.Number(heatPump),
		"sensor.oven":      entity.Number(1800),
		"sensor.export":    entity.Number(-350),
		"sensor.solar":     entity.Number(60),
		"sensor.grid":      entity.Number(40),
		"sensor.battery":   entity.Number(0),
	})
}

func TestRenderCharts(t *testing.T) {
	l := parseLayout(t, chartLayout)

	a, err := New().Render(l, chartSnapshot(900))
	require.NoError(t, err)
	require.Empty(t, a.Degraded)
	img, err := png.Decode(bytes.NewReader(a.Data))
	require.NoError(t, err)
	require.Equal(t, 480, img.Bounds().Dx())

	again, err := New().Render(l, chartSnapshot(900))
	require.NoError(t, err)
	require.Equal(t, a.Data, again.Data)

	changed, err := New().Render(l, chartSnapshot(1200))
	require.NoError(t, err)
	require.NotEqual(t, a.Data, changed.Data)
}

func TestRenderChartsDegradePerEntity(t *testing.T) {
	l := parseLayout(t, chartLayout)
	snap := snapshotOf(map[string]entity.Value{
		"sensor.heat_pump": entity.Number(900),
		"sensor.oven":      entity.String("idle"),
		"sensor.solar":     entity.Unavailable(),
	})

	res, err := New().Render(l, snap)
	require.NoError(t, err)
	require.Equal(t, []Degraded{
		{Widget: 0, Type: layout.WidgetBar, EntityID: "sensor.oven", Reason: ReasonWrongType},
		{Widget: 0, Type: layout.WidgetBar, EntityID: "sensor.export", Reason: ReasonMissing},
		{Widget: 1, Type: layout.WidgetPie, EntityID: "sensor.solar", Reason: ReasonUnavailable},
		{Widget: 1, Type: layout.WidgetPie, EntityID: "sensor.grid", Reason: ReasonMissing},
		{Widget: 1, Type: layout.WidgetPie, EntityID: "sensor.battery", Reason: ReasonMissing},
	}, res.Degraded)
}

func TestRenderPieIgnoresNonPositiveShares(t *testing.T) {
	doc := "id: p\nsize: {width: 200, height: 200}\nwidgets:\n  - type: pie\n    entities: [sensor.a, sensor.b]\n"
	l := parseLayout(t, doc)

	zero, err := New().Render(l, snapshotOf(map[string]entity.Value{"sensor.a": entity.Number(5), "sensor.b": entity.Number(0)}))
	require.NoError(t, err)
	negative, err := New().Render(l, snapshotOf(map[string]entity.Value{"sensor.a": entity.Number(5), "sensor.b": entity.Number(-3)}))
	require.NoError(t, err)
	require.Empty(t, zero.Degraded)
	require.Equal(t, zero.Data, negative.Data)
}

func TestBarRange(t *testing.T) {
	pts := []point{{value: 12, ok: true}, {value: -4, ok: true}, {value: 99}}
	lo, hi := barRange(layout.Widget{}, pts)
	require.Equal(t, -4.0, lo)
	require.Equal(t, 12.0, hi)

	lo, hi = barRange(layout.Widget{}, []point{{value: -2, ok: true}})
	require.Equal(t, -2.0, lo)
	require.Equal(t, 0.0, hi)

	top := 50.0
	lo, hi = barRange(layout.Widget{Max: &top}, pts)
	require.Equal(t, -4.0, lo)
	require.Equal(t, 50.0, hi)

	floor := 100.0
	lo, hi = barRange(layout.Widget{Min: &floor}, pts)
	require.Equal(t, 100.0, lo)
	require.Equal(t, 101.0, hi)
}

func TestSeriesStyles(t *testing.T) {
	mono := paletteFor(layout.Size{Background: "#ffffff", Mode: layout.ModeMono})
	require.False(t, mono.series(0).hollow)
	require.True(t, mono.series(1).hollow)
	require.Equal(t, mono.fg, mono.series(1).color)

	color := paletteFor(layout.Size{Background: "#ffffff", Mode: layout.ModeColor})
	require.NotEqual(t, color.series(0).color, color.series(1).color)
	require.Equal(t, color.series(0), color.series(len(seriesColors)))
}
