// Package explorer owns the operator's progressive selection of
// date → run → time-window and the view state each step produces.
package explorer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/charts"
	"github.com/transitworks/rideview/internal/dataservice"
	"github.com/transitworks/rideview/internal/geo"
	"github.com/transitworks/rideview/internal/models"
	"github.com/transitworks/rideview/pkg/ws"
)

// Selection states
const (
	StateIdle         = "idle"
	StateDateChosen   = "date_chosen"
	StateRunChosen    = "run_chosen"
	StateWindowChosen = "window_chosen"
)

// Selection events
const (
	EventSelectDate   = "select_date"
	EventSelectRun    = "select_run"
	EventSelectWindow = "select_window"
	EventReset        = "reset"
)

// Outcome is the terminal sub-state of a window fetch.
type Outcome string

const (
	OutcomeNone   Outcome = ""
	OutcomeLoaded Outcome = "loaded"
	OutcomeEmpty  Outcome = "empty"
	OutcomeError  Outcome = "error"
)

// ErrStale marks a fetch completion whose selection epoch no longer
// matches the latest selection; its result must be discarded.
var ErrStale = errors.New("stale selection epoch")

// Alert is the single user-visible message for the current state.
// Exactly one of info/warning/error is ever shown.
type Alert struct {
	Level string `json:"level"` // "info" | "warning" | "error"
	Text  string `json:"text"`
}

// Selection is the operator's current (partial) choice.
type Selection struct {
	Date       string `json:"date"`
	RunsheetID string `json:"runsheetId"`
	LeadLRV    string `json:"leadLRV"`
	WindowTime string `json:"windowTime"`
}

// ViewState is the disposable visual state owned by the session: the
// rendered chart page and the row-count banner. Dispose is always
// called before a replacement is installed, so stale chart instances
// cannot survive a selection change.
type ViewState struct {
	Charts   *charts.Rendered
	RowCount int
	Alert    *Alert
}

// ChartCount reports how many chart instances the active view holds.
func (v *ViewState) ChartCount() int {
	if v == nil || v.Charts == nil {
		return 0
	}
	return v.Charts.SlotCount
}

// Dispose drops the rendered charts and banner state.
func (v *ViewState) Dispose() {
	v.Charts = nil
	v.RowCount = 0
	v.Alert = nil
}

// DataClient is the slice of the data service the session consumes.
type DataClient interface {
	ListRuns(ctx context.Context, date string) (*dataservice.RunList, error)
	ListWindowBounds(ctx context.Context, runsheetID, date, leadLRV string) (*dataservice.WindowBounds, error)
	FetchSamples(ctx context.Context, leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error)
	FetchSamplesByDate(ctx context.Context, runsheetID, leadLRV, date, windowTime string) (*dataservice.SampleSet, error)
}

// Session is the selection state machine. All view mutation funnels
// through it: fetches capture the selection epoch at dispatch and any
// completion carrying an outdated epoch is discarded, so a late
// response can never clobber a newer selection.
type Session struct {
	logger     *zap.Logger
	client     DataClient
	renderer   *charts.Renderer
	correlator *geo.Correlator
	hub        *ws.Hub
	stride     time.Duration

	mu      sync.Mutex
	machine *fsm.FSM
	epoch   uint64
	sel     Selection
	runs    []models.Run
	windows []string
	view    ViewState
	outcome Outcome
}

func NewSession(
	logger *zap.Logger,
	client DataClient,
	renderer *charts.Renderer,
	correlator *geo.Correlator,
	hub *ws.Hub,
	stride time.Duration,
) *Session {
	s := &Session{
		logger:     logger,
		client:     client,
		renderer:   renderer,
		correlator: correlator,
		hub:        hub,
		stride:     stride,
	}

	anyState := []string{StateIdle, StateDateChosen, StateRunChosen, StateWindowChosen}
	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventSelectDate, Src: anyState, Dst: StateDateChosen},
			{Name: EventSelectRun, Src: []string{StateDateChosen, StateRunChosen, StateWindowChosen}, Dst: StateRunChosen},
			{Name: EventSelectWindow, Src: []string{StateRunChosen, StateWindowChosen}, Dst: StateWindowChosen},
			{Name: EventReset, Src: anyState, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					s.logger.Info("Selection state changed",
						zap.String("from", e.Src),
						zap.String("to", e.Dst))
				}
			},
		},
	)

	return s
}

// CurrentState returns the machine state name.
func (s *Session) CurrentState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Epoch returns the current selection epoch.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Snapshot is the serializable view of the session, broadcast to
// newly connected clients.
type Snapshot struct {
	State     string       `json:"state"`
	Selection Selection    `json:"selection"`
	Outcome   Outcome      `json:"outcome"`
	Runs      []models.Run `json:"runs,omitempty"`
	Windows   []string     `json:"windows,omitempty"`
	Charts    int          `json:"charts"`
	RowCount  int          `json:"row_count"`
	Alert     *Alert       `json:"alert,omitempty"`
	MapActive bool         `json:"map_active"`
}

// Snapshot captures the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.machine.Current(),
		Selection: s.sel,
		Outcome:   s.outcome,
		Runs:      s.runs,
		Windows:   s.windows,
		Charts:    s.view.ChartCount(),
		RowCount:  s.view.RowCount,
		Alert:     s.view.Alert,
		MapActive: s.correlator.Active(),
	}
}

// ChartCount reports how many chart instances currently exist.
func (s *Session) ChartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.ChartCount()
}

// ChartHTML returns the rendered chart page for the active window.
func (s *Session) ChartHTML() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view.Charts == nil {
		return nil, false
	}
	return s.view.Charts.HTML, true
}

// Alert returns the current user-visible message, if any.
func (s *Session) Alert() *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Alert
}

// Outcome returns the terminal sub-state of the last window fetch.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// ShowPosition routes a chart click to the geospatial correlator and
// broadcasts the resulting map update. Clicks arriving without a
// loaded window, such as from an iframe outliving a date change, are
// dropped so they cannot resurrect a torn-down map.
func (s *Session) ShowPosition(ctx context.Context, lat, lng float64) (*models.Station, error) {
	s.mu.Lock()
	if s.outcome != OutcomeLoaded {
		s.mu.Unlock()
		s.logger.Debug("Dropping position click without loaded window",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng))
		return nil, nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	nearest, err := s.correlator.ShowPosition(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stale := s.epoch != epoch
	loaded := s.outcome == OutcomeLoaded
	s.mu.Unlock()
	if stale {
		// The selection moved on while the map was being built. Unless
		// a newer window has already loaded, the map it tore down must
		// stay down.
		if !loaded {
			s.correlator.Teardown()
		}
		return nil, nil
	}

	s.broadcast(ws.MsgTypePositionUpdate, s.correlator.View())
	return nearest, nil
}

// MapView exposes the correlator's current map view.
func (s *Session) MapView() *geo.MapView {
	return s.correlator.View()
}

// Reset returns the session to idle, disposing all view state.
func (s *Session) Reset() {
	s.mu.Lock()
	s.epoch++
	s.disposeAllLocked()
	s.sel = Selection{}
	s.runs = nil
	s.windows = nil
	_ = s.machine.Event(context.Background(), EventReset)
	s.mu.Unlock()
	s.broadcast(ws.MsgTypeSelectionChanged, s.Snapshot())
}

// fireEvent triggers a machine event. Re-entering the current state
// (picking a new date while one is already chosen, say) is a valid
// loop transition, not a failure.
func (s *Session) fireEvent(ctx context.Context, event string) error {
	err := s.machine.Event(ctx, event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// disposeAllLocked clears everything downstream of a date change:
// charts, banner, map. Callers hold s.mu.
func (s *Session) disposeAllLocked() {
	s.view.Dispose()
	s.outcome = OutcomeNone
	s.correlator.Teardown()
}

func (s *Session) broadcast(msgType string, data interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastMessage(msgType, data)
}
