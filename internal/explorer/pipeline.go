package explorer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/charts"
	"github.com/transitworks/rideview/internal/dataservice"
	"github.com/transitworks/rideview/internal/models"
	"github.com/transitworks/rideview/internal/stepper"
	"github.com/transitworks/rideview/pkg/ws"
)

// RunResult is the outcome of a date selection.
type RunResult struct {
	Runs  []models.Run `json:"runs"`
	Alert *Alert       `json:"alert,omitempty"`
}

// WindowResult is the outcome of a run selection.
type WindowResult struct {
	Windows []string `json:"windows"`
	Alert   *Alert   `json:"alert,omitempty"`
}

// WindowOutcome is the outcome of a window selection.
type WindowOutcome struct {
	Outcome  Outcome `json:"outcome"`
	RowCount int     `json:"row_count"`
	Alert    *Alert  `json:"alert,omitempty"`
}

// DeepLink carries the four parameters of a shared link. All four
// must be present; partial links fall back to the interactive flow.
type DeepLink struct {
	RunsheetID string
	LeadLRV    string
	Date       string
	Time       string
}

// Complete reports whether every deep-link parameter is set.
func (d DeepLink) Complete() bool {
	return d.RunsheetID != "" && d.LeadLRV != "" && d.Date != "" && d.Time != ""
}

// SelectDate restarts the selection at a new service date. Every
// downstream artifact is disposed before the run list is fetched.
func (s *Session) SelectDate(ctx context.Context, date string) (*RunResult, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return nil, errors.New("date is required")
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.disposeAllLocked()
	s.sel = Selection{Date: date}
	s.runs = nil
	s.windows = nil
	if err := s.fireEvent(ctx, EventSelectDate); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("selecting date: %w", err)
	}
	s.mu.Unlock()
	s.broadcast(ws.MsgTypeSelectionChanged, s.Snapshot())

	list, err := s.client.ListRuns(ctx, date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.logger.Debug("Discarding stale run list",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current", s.epoch))
		return nil, ErrStale
	}

	res := &RunResult{}
	switch {
	case err != nil:
		s.view.Alert = &Alert{Level: "error", Text: "Error: " + failureMessage(err)}
	case !list.Success:
		s.logger.Warn("Run list request rejected", zap.String("error", list.Error))
		s.view.Alert = &Alert{Level: "warning", Text: noRunsText(list.Message)}
	case len(list.Runs) == 0:
		s.view.Alert = &Alert{Level: "warning", Text: noRunsText(list.Message)}
	default:
		s.runs = list.Runs
		res.Runs = list.Runs
	}
	res.Alert = s.view.Alert
	return res, nil
}

// SelectRun picks a run (runsheet + lead LRV) within the chosen date
// and derives the list of selectable 30-minute windows from the run's
// recorded time bounds. Charts and map from any earlier window are
// disposed; the date and run list survive.
func (s *Session) SelectRun(ctx context.Context, runsheetID, leadLRV string) (*WindowResult, error) {
	s.mu.Lock()
	if !s.machine.Can(EventSelectRun) {
		s.mu.Unlock()
		return nil, fmt.Errorf("cannot select run in state %q", s.machine.Current())
	}
	s.epoch++
	epoch := s.epoch
	s.view.Dispose()
	s.outcome = OutcomeNone
	s.correlator.Teardown()
	s.windows = nil
	date := s.sel.Date
	s.sel.RunsheetID = runsheetID
	s.sel.LeadLRV = leadLRV
	s.sel.WindowTime = ""
	if err := s.fireEvent(ctx, EventSelectRun); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("selecting run: %w", err)
	}
	s.mu.Unlock()
	s.broadcast(ws.MsgTypeSelectionChanged, s.Snapshot())

	bounds, err := s.client.ListWindowBounds(ctx, runsheetID, date, leadLRV)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.logger.Debug("Discarding stale window bounds",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current", s.epoch))
		return nil, ErrStale
	}

	res := &WindowResult{}
	switch {
	case err != nil:
		s.view.Alert = &Alert{Level: "error", Text: "Error: " + failureMessage(err)}
	case !bounds.Success:
		s.logger.Warn("Window bounds request rejected", zap.String("error", bounds.Error))
		s.view.Alert = &Alert{Level: "warning", Text: noWindowsText(bounds.Message)}
	default:
		windows, werr := s.windowLabels(bounds)
		if werr != nil {
			s.logger.Warn("Unusable window bounds",
				zap.String("runsheetId", runsheetID),
				zap.Error(werr))
		}
		if len(windows) == 0 {
			s.view.Alert = &Alert{Level: "warning", Text: noWindowsText(bounds.Message)}
		} else {
			s.windows = windows
			res.Windows = windows
		}
	}
	res.Alert = s.view.Alert
	return res, nil
}

// windowLabels expands a run's [firstTime, lastTime) bounds into
// stride-spaced window start labels.
func (s *Session) windowLabels(bounds *dataservice.WindowBounds) ([]string, error) {
	tw, ok := bounds.First()
	if !ok {
		return nil, nil
	}
	first, err := models.ParseDateTime(tw.FirstTime)
	if err != nil {
		return nil, fmt.Errorf("parsing first time %q: %w", tw.FirstTime, err)
	}
	last, err := models.ParseDateTime(tw.LastTime)
	if err != nil {
		return nil, fmt.Errorf("parsing last time %q: %w", tw.LastTime, err)
	}
	starts := stepper.Windows(first, last, s.stride)
	labels := make([]string, 0, len(starts))
	for _, t := range starts {
		labels = append(labels, models.FormatDateTime(t))
	}
	return labels, nil
}

// SelectWindow loads and renders the samples for one time window of
// the chosen run.
func (s *Session) SelectWindow(ctx context.Context, windowTime string) (*WindowOutcome, error) {
	s.mu.Lock()
	if !s.machine.Can(EventSelectWindow) {
		s.mu.Unlock()
		return nil, fmt.Errorf("cannot select window in state %q", s.machine.Current())
	}
	s.epoch++
	epoch := s.epoch
	s.view.Dispose()
	s.outcome = OutcomeNone
	s.correlator.Teardown()
	s.sel.WindowTime = windowTime
	runsheetID := s.sel.RunsheetID
	leadLRV := s.sel.LeadLRV
	if err := s.fireEvent(ctx, EventSelectWindow); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("selecting window: %w", err)
	}
	s.mu.Unlock()
	s.broadcast(ws.MsgTypeSelectionChanged, s.Snapshot())

	set, err := s.client.FetchSamples(ctx, leadLRV, runsheetID, windowTime)
	return s.completeWindow(epoch, runsheetID, leadLRV, set, err)
}

// Activate applies a complete deep link: the full selection is
// installed in one step and the window's samples are fetched through
// the date-qualified endpoint.
func (s *Session) Activate(ctx context.Context, link DeepLink) (*WindowOutcome, error) {
	if !link.Complete() {
		return nil, errors.New("incomplete deep link")
	}
	date := models.NormalizeDisplayDate(link.Date)

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.disposeAllLocked()
	s.sel = Selection{
		Date:       date,
		RunsheetID: link.RunsheetID,
		LeadLRV:    link.LeadLRV,
		WindowTime: link.Time,
	}
	s.runs = nil
	s.windows = nil
	s.machine.SetState(StateWindowChosen)
	s.mu.Unlock()
	s.logger.Info("Applying deep link",
		zap.String("runsheetId", link.RunsheetID),
		zap.String("leadLRV", link.LeadLRV),
		zap.String("date", date),
		zap.String("time", link.Time))
	s.broadcast(ws.MsgTypeSelectionChanged, s.Snapshot())

	set, err := s.client.FetchSamplesByDate(ctx, link.RunsheetID, link.LeadLRV, date, link.Time)
	return s.completeWindow(epoch, link.RunsheetID, link.LeadLRV, set, err)
}

// completeWindow classifies a window fetch result and installs the
// matching view state: loaded, empty, or error. Results from a
// superseded epoch are discarded untouched.
func (s *Session) completeWindow(epoch uint64, runsheetID, leadLRV string, set *dataservice.SampleSet, err error) (*WindowOutcome, error) {
	var rendered *charts.Rendered
	var renderErr error
	if err == nil && set.Success && !set.Empty() {
		rendered, renderErr = s.renderer.RenderWindow(set.Data, set.RmsData)
		if renderErr == nil && len(rendered.Skipped) > 0 {
			s.logger.Warn("Skipped unrenderable charts", zap.Strings("slots", rendered.Skipped))
		}
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale sample set",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current", s.epoch))
		return nil, ErrStale
	}

	var msgType string
	var msgData interface{}
	out := &WindowOutcome{}
	switch {
	case err != nil:
		s.outcome = OutcomeError
		s.view.Alert = &Alert{Level: "error", Text: "Error: " + failureMessage(err)}
		msgType, msgData = ws.MsgTypeError, s.view.Alert
	case !set.Success:
		s.logger.Warn("Sample request rejected", zap.String("error", set.Error))
		s.outcome = OutcomeEmpty
		s.view.Alert = &Alert{Level: "warning", Text: noDataText(runsheetID, leadLRV)}
		msgType, msgData = ws.MsgTypeNoData, s.view.Alert
	case set.Empty():
		s.outcome = OutcomeEmpty
		s.view.Alert = &Alert{Level: "warning", Text: noDataText(runsheetID, leadLRV)}
		msgType, msgData = ws.MsgTypeNoData, s.view.Alert
	case renderErr != nil:
		s.logger.Error("Rendering charts failed", zap.Error(renderErr))
		s.outcome = OutcomeError
		s.view.Alert = &Alert{Level: "error", Text: "Error: " + renderErr.Error()}
		msgType, msgData = ws.MsgTypeError, s.view.Alert
	default:
		s.outcome = OutcomeLoaded
		s.view.Charts = rendered
		s.view.RowCount = set.RowCount
		msgType, msgData = ws.MsgTypeDataLoaded, map[string]interface{}{
			"runsheetId": runsheetID,
			"leadLRV":    leadLRV,
			"row_count":  set.RowCount,
			"charts":     rendered.SlotCount,
		}
	}
	out.Outcome = s.outcome
	out.RowCount = s.view.RowCount
	out.Alert = s.view.Alert
	s.mu.Unlock()

	s.broadcast(msgType, msgData)
	return out, nil
}

func noDataText(runsheetID, leadLRV string) string {
	return fmt.Sprintf("No data available for runsheet id: %s LRV: %s", runsheetID, leadLRV)
}

func noRunsText(msg string) string {
	if msg != "" {
		return msg
	}
	return "No LRVs found for the selected date."
}

func noWindowsText(msg string) string {
	if msg != "" {
		return msg
	}
	return "No time data found for this LRV."
}

// failureMessage prefers the server-derived transport message over
// the raw error chain.
func failureMessage(err error) string {
	var te *dataservice.TransportError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}
