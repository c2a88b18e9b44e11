package dataservice

import "github.com/transitworks/rideview/internal/models"

// envelope is the common success wrapper every endpoint returns.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunList is the response of the run-options endpoint. An empty Runs
// slice with Success=true is an expected "nothing recorded that day"
// outcome, usually accompanied by Message.
type RunList struct {
	envelope
	Runs []models.Run `json:"lrvs"`
}

// WindowBounds is the response of the time-options endpoint. Only the
// first entry of Times is meaningful; an absent or empty array means
// no data for the run.
type WindowBounds struct {
	envelope
	Times []models.TimeWindow `json:"times"`
}

// First returns the usable bounds entry, if any.
func (w *WindowBounds) First() (models.TimeWindow, bool) {
	if len(w.Times) == 0 {
		return models.TimeWindow{}, false
	}
	return w.Times[0], true
}

// SampleSet is the response of both sample endpoints: the raw
// high-rate readings plus the windowed-RMS aggregates.
type SampleSet struct {
	envelope
	Data     []models.Sample   `json:"data"`
	RmsData  []models.RmsPoint `json:"rms_data"`
	RowCount int               `json:"row_count"`
}

// Empty reports whether the fetch succeeded but carried nothing to
// display.
func (s *SampleSet) Empty() bool {
	return len(s.Data) == 0
}

// stationList is the response of the stations endpoint.
type stationList struct {
	envelope
	Stations []models.Station `json:"stations"`
}
