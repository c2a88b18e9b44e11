package models

import (
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the wire format the data service uses for window
// bounds and sample timestamps ("MySQL style"). Values are wall-clock
// in the viewer's local time; no zone conversion is applied.
const DateTimeLayout = "2006-01-02 15:04:05"

// Run identifies one recorded trip of a lead vehicle on a given date.
type Run struct {
	RunsheetID string `json:"runsheetId"`
	LeadLRV    string `json:"leadLRV"`
}

// Label is the button text shown for a run option.
func (r Run) Label() string {
	lead := r.LeadLRV
	if lead == "" {
		lead = "N/A"
	}
	id := r.RunsheetID
	if id == "" {
		id = "N/A"
	}
	return fmt.Sprintf("%s [%s]", lead, id)
}

// TimeWindow is the observed [FirstTime, LastTime) span of a run, as
// reported by the data service.
type TimeWindow struct {
	FirstTime string `json:"firstTime"`
	LastTime  string `json:"lastTime"`
}

// Sample is one high-rate sensor reading. The filtered acceleration
// fields may be absent in the payload and default to zero; Lat/Lng are
// optional and nil when the reading carries no fix.
type Sample struct {
	Time      string   `json:"time"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Z         float64  `json:"z"`
	XFiltered *float64 `json:"x_filtered"`
	YFiltered *float64 `json:"y_filtered"`
	ZFiltered *float64 `json:"z_filtered"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

// RmsPoint is one windowed-RMS aggregate (5 s window, lateral axis).
type RmsPoint struct {
	Time string   `json:"time"`
	RmsX *float64 `json:"rms_x"`
}

// Station is a static track reference point.
type Station struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Name string  `json:"name"`
}

// ParseDateTime parses a data-service timestamp as local wall-clock
// time. Fractional seconds are accepted since the high-rate samples
// carry them.
func ParseDateTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(DateTimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(DateTimeLayout+".999", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return t, nil
}

// FormatDateTime renders a timestamp back into the wire format.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// NormalizeDisplayDate converts a deep-link date of the form
// "22 Jul 24" into "2024-07-22". Two-digit years follow the standard
// 69..99 -> 1900s pivot, so "05 Jan 99" becomes "1999-01-05".
// Unrecognised input is returned unchanged so the caller can pass
// through dates that already arrived normalized.
func NormalizeDisplayDate(s string) string {
	t, err := time.Parse("2 Jan 06", strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}
