// Package charts renders the synchronized acceleration charts for one
// selected time window using ECharts (go-echarts). Up to four
// time-axis line charts share a zoom group so panning one pans all.
package charts

// SeriesBinding names which column of the fetched window a chart slot
// displays.
type SeriesBinding int

const (
	BindLateral SeriesBinding = iota
	BindLongitudinal
	BindVertical
	BindRMS
)

// Threshold is a fixed regulatory ride-quality limit drawn as a
// horizontal reference line. Values are constants, never derived from
// data. Mirror draws the symmetric negative line as well.
type Threshold struct {
	Value  float64
	Label  string
	Color  string
	Mirror bool
}

// SlotSpec is the declarative configuration of one chart slot. Adding
// a slot is a table edit, not new branch logic.
type SlotSpec struct {
	ID         string
	Title      string
	SeriesName string
	Color      string
	YMin       float64
	YMax       float64
	Bind       SeriesBinding
	Thresholds []Threshold
}

// Slots is the fixed slot table: three raw filtered-acceleration axes
// and one windowed-RMS axis. Y domains are fixed per slot so visual
// severity is comparable across sessions.
var Slots = []SlotSpec{
	{
		ID:         "chart1",
		Title:      "Lateral Acceleration (X)",
		SeriesName: "Lateral Acceleration",
		Color:      "#26a0fc",
		YMin:       -4,
		YMax:       4,
		Bind:       BindLateral,
		Thresholds: []Threshold{
			{Value: 0.875, Label: "Transient RQ Limit 0.875m/s2 (0.7m/s2 at seat)", Color: "green", Mirror: true},
			{Value: 2.25, Label: "intermediate Limit 2.25m/s2", Color: "orange", Mirror: true},
			{Value: 3, Label: "Transient Limit 3m/s2", Color: "red", Mirror: true},
		},
	},
	{
		ID:         "chart2",
		Title:      "Longitudinal Acceleration (Y)",
		SeriesName: "Longitudinal Acceleration",
		Color:      "#26e7a6",
		YMin:       -3,
		YMax:       3,
		Bind:       BindLongitudinal,
	},
	{
		ID:         "chart3",
		Title:      "Vertical Acceleration (Z)",
		SeriesName: "Vertical Acceleration",
		Color:      "#febc3b",
		YMin:       -2,
		YMax:       2,
		Bind:       BindVertical,
	},
	{
		ID:         "chart4",
		Title:      "Lateral RMS (5s Window)",
		SeriesName: "Lateral RMS",
		Color:      "#8b75d7",
		YMin:       0,
		YMax:       2.5,
		Bind:       BindRMS,
		Thresholds: []Threshold{
			{Value: 0.625, Label: "Sustained RQ Limit 0.625m/s2 (0.5m/s2 at seat)", Color: "green"},
			{Value: 1.6, Label: "intermediate Limit 1.6m/s2", Color: "orange"},
			{Value: 2.15, Label: "Sustained Limit 2.15m/s2", Color: "red"},
		},
	},
}
