package charts

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/models"
)

// zoomGroup links the charts' dataZoom so the shared timeline cursor
// moves all slots together.
const zoomGroup = "ridequality"

// timeLabelJS formats an epoch-millisecond axis value as
// HH:mm:ss.SSS local time.
const timeLabelJS = `function (value) {
	var d = new Date(value);
	var p = function (n, w) { return String(n).padStart(w, '0'); };
	return p(d.getHours(),2) + ':' + p(d.getMinutes(),2) + ':' + p(d.getSeconds(),2) + '.' + p(d.getMilliseconds(),3);
}`

const tooltipJS = `function (params) {
	var pt = params[0];
	var d = new Date(pt.value[0]);
	var p = function (n, w) { return String(n).padStart(w, '0'); };
	return pt.seriesName + '<br />Time: ' + p(d.getHours(),2) + ':' + p(d.getMinutes(),2) + ':' + p(d.getSeconds(),2) + '.' + p(d.getMilliseconds(),3) + '<br />Value: ' + pt.value[1].toFixed(3);
}`

// Rendered is one render cycle's output: the complete chart page plus
// the slots that actually made it in. Previous Rendered values are
// discarded wholesale before a replacement is built, so chart
// instances can never leak across window switches.
type Rendered struct {
	HTML      []byte
	SlotCount int
	Skipped   []string
}

// Renderer turns one window's samples and RMS aggregates into the
// four-slot synchronized chart page.
type Renderer struct {
	logger *zap.Logger
}

func NewRenderer(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// seriesPoint is one validated chart point: timestamp in epoch
// milliseconds, the bound value, and optional click-through
// coordinates.
type seriesPoint struct {
	ts  int64
	val float64
	lat *float64
	lng *float64
}

// RenderWindow builds the chart page for the active window. A slot
// whose series contains an unparseable timestamp is aborted (and
// reported in Skipped) without affecting the other slots; missing
// per-point fields default to zero.
func (r *Renderer) RenderWindow(samples []models.Sample, rms []models.RmsPoint) (*Rendered, error) {
	page := components.NewPage()
	page.PageTitle = "Ride Quality"

	rendered := &Rendered{}
	var lines []*charts.Line

	for _, slot := range Slots {
		points, err := r.slotPoints(slot, samples, rms)
		if err != nil {
			r.logger.Warn("Skipping chart slot",
				zap.String("slot", slot.ID),
				zap.Error(err))
			rendered.Skipped = append(rendered.Skipped, slot.ID)
			continue
		}
		if len(points) == 0 {
			r.logger.Warn("No data for chart slot", zap.String("slot", slot.ID))
			rendered.Skipped = append(rendered.Skipped, slot.ID)
			continue
		}
		lines = append(lines, r.buildLine(slot, points))
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("no renderable chart slots")
	}

	// The zoom group is connected once, after every instance exists.
	lines[len(lines)-1].AddJSFuncs(fmt.Sprintf("echarts.connect('%s');", zoomGroup))

	for _, ln := range lines {
		page.AddCharts(ln)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render chart page: %w", err)
	}

	rendered.HTML = buf.Bytes()
	rendered.SlotCount = len(lines)
	return rendered, nil
}

// slotPoints extracts and validates the bound series for one slot. The
// first null or unparseable timestamp aborts the slot; the error names
// the offending index so the log stays one line per slot, not one per
// point.
func (r *Renderer) slotPoints(slot SlotSpec, samples []models.Sample, rms []models.RmsPoint) ([]seriesPoint, error) {
	if slot.Bind == BindRMS {
		points := make([]seriesPoint, 0, len(rms))
		for i, p := range rms {
			t, err := models.ParseDateTime(p.Time)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp at index %d: %w", i, err)
			}
			points = append(points, seriesPoint{ts: t.UnixMilli(), val: deref(p.RmsX)})
		}
		return points, nil
	}

	points := make([]seriesPoint, 0, len(samples))
	for i, s := range samples {
		t, err := models.ParseDateTime(s.Time)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at index %d: %w", i, err)
		}
		var val float64
		switch slot.Bind {
		case BindLateral:
			val = deref(s.XFiltered)
		case BindLongitudinal:
			val = deref(s.YFiltered)
		case BindVertical:
			val = deref(s.ZFiltered)
		}
		points = append(points, seriesPoint{ts: t.UnixMilli(), val: val, lat: s.Lat, lng: s.Lng})
	}
	return points, nil
}

func (r *Renderer) buildLine(slot SlotSpec, points []seriesPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: slot.ID,
			Width:   "1200px",
			Height:  "350px",
		}),
		charts.WithTitleOpts(opts.Title{Title: slot.Title, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      opts.Bool(true),
			Trigger:   "axis",
			Formatter: opts.FuncOpts(tooltipJS),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "time",
			AxisLabel: &opts.AxisLabel{
				Formatter: opts.FuncOpts(timeLabelJS),
			},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:         "value",
			Name:         "Acceleration (m/s²)",
			NameLocation: "middle",
			NameGap:      40,
			Min:          slot.YMin,
			Max:          slot.YMax,
		}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "slider", XAxisIndex: []int{0}, Start: 0, End: 100},
			opts.DataZoom{Type: "inside", XAxisIndex: []int{0}},
		),
		charts.WithToolboxOpts(opts.Toolbox{
			Show:  opts.Bool(true),
			Right: "20",
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{Show: opts.Bool(true)},
				Restore:     &opts.ToolBoxFeatureRestore{Show: opts.Bool(true)},
			},
		}),
	)

	data := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		// Click-through coordinates ride along as extra value
		// dimensions; null when the sample has no fix.
		var lat, lng interface{}
		if p.lat != nil {
			lat = *p.lat
		}
		if p.lng != nil {
			lng = *p.lng
		}
		data = append(data, opts.LineData{Value: []interface{}{p.ts, p.val, lat, lng}})
	}

	line.AddSeries(slot.SeriesName, data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: slot.Color}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: slot.Color}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: slot.Color, Opacity: opts.Float(0.5)}),
	)

	// One zero-data helper series per threshold so each reference line
	// keeps its own color and label.
	for _, th := range slot.Thresholds {
		items := []opts.MarkLineNameYAxisItem{{Name: th.Label, YAxis: th.Value}}
		if th.Mirror {
			items = append(items, opts.MarkLineNameYAxisItem{Name: th.Label, YAxis: -th.Value})
		}
		markOpts := make([]charts.SeriesOpts, 0, len(items)+1)
		for _, it := range items {
			markOpts = append(markOpts, charts.WithMarkLineNameYAxisItemOpts(it))
		}
		markOpts = append(markOpts, charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
			Symbol: []string{"none"},
			Label: &opts.Label{
				Show:      opts.Bool(true),
				Position:  "end",
				Color:     th.Color,
				Formatter: types.FuncStr(th.Label),
			},
			LineStyle: &opts.LineStyle{Color: th.Color, Type: "dashed"},
		}))
		line.AddSeries("", []opts.LineData{}, markOpts...)
	}

	line.AddJSFuncs(r.slotJS(slot.ID))
	return line
}

// slotJS wires one chart instance into the zoom group, forwards point
// clicks carrying coordinates to the position endpoint, and resizes
// with the viewport.
func (r *Renderer) slotJS(chartID string) string {
	return fmt.Sprintf(`
goecharts_%[1]s.group = '%[2]s';
goecharts_%[1]s.on('click', function (evt) {
	var v = evt.value;
	if (v && typeof v[2] === 'number' && typeof v[3] === 'number') {
		fetch('/api/position', {
			method: 'POST',
			headers: {'Content-Type': 'application/json'},
			body: JSON.stringify({lat: v[2], lng: v[3]})
		}).then(function () {
			if (window.parent && window.parent.refreshMap) { window.parent.refreshMap(); }
		});
	} else {
		console.warn('Invalid/missing coordinates on clicked data point');
	}
});
window.addEventListener('resize', function () { goecharts_%[1]s.resize(); });`, chartID, zoomGroup)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
