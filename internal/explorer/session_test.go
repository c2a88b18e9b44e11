package explorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/charts"
	"github.com/transitworks/rideview/internal/dataservice"
	"github.com/transitworks/rideview/internal/geo"
	"github.com/transitworks/rideview/internal/models"
)

func f(v float64) *float64 { return &v }

type fakeClient struct {
	runs    func(date string) (*dataservice.RunList, error)
	bounds  func(runsheetID, date, leadLRV string) (*dataservice.WindowBounds, error)
	samples func(leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error)
	byDate  func(runsheetID, leadLRV, date, windowTime string) (*dataservice.SampleSet, error)
}

func (c *fakeClient) ListRuns(_ context.Context, date string) (*dataservice.RunList, error) {
	return c.runs(date)
}

func (c *fakeClient) ListWindowBounds(_ context.Context, runsheetID, date, leadLRV string) (*dataservice.WindowBounds, error) {
	return c.bounds(runsheetID, date, leadLRV)
}

func (c *fakeClient) FetchSamples(_ context.Context, leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error) {
	return c.samples(leadLRV, runsheetID, windowTime)
}

func (c *fakeClient) FetchSamplesByDate(_ context.Context, runsheetID, leadLRV, date, windowTime string) (*dataservice.SampleSet, error) {
	return c.byDate(runsheetID, leadLRV, date, windowTime)
}

type noStations struct{}

func (noStations) ListStations(context.Context) ([]models.Station, error) { return nil, nil }

func goodSampleSet() *dataservice.SampleSet {
	set := &dataservice.SampleSet{
		Data: []models.Sample{
			{Time: "2024-07-22 06:30:00.100", XFiltered: f(0.4), Lat: f(51.5), Lng: f(-0.1)},
			{Time: "2024-07-22 06:30:00.200", XFiltered: f(0.5)},
		},
		RmsData:  []models.RmsPoint{{Time: "2024-07-22 06:30:05", RmsX: f(0.3)}},
		RowCount: 2,
	}
	set.Success = true
	return set
}

func newTestSession(client DataClient) *Session {
	logger := zap.NewNop()
	return NewSession(
		logger,
		client,
		charts.NewRenderer(logger),
		geo.NewCorrelator(logger, noStations{}, 13),
		nil,
		30*time.Minute,
	)
}

func defaultClient() *fakeClient {
	return &fakeClient{
		runs: func(date string) (*dataservice.RunList, error) {
			list := &dataservice.RunList{Runs: []models.Run{{RunsheetID: "RS-17", LeadLRV: "2041"}}}
			list.Success = true
			return list, nil
		},
		bounds: func(runsheetID, date, leadLRV string) (*dataservice.WindowBounds, error) {
			b := &dataservice.WindowBounds{Times: []models.TimeWindow{{
				FirstTime: "2024-07-22 06:00:00",
				LastTime:  "2024-07-22 07:30:00",
			}}}
			b.Success = true
			return b, nil
		},
		samples: func(leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error) {
			return goodSampleSet(), nil
		},
		byDate: func(runsheetID, leadLRV, date, windowTime string) (*dataservice.SampleSet, error) {
			return goodSampleSet(), nil
		},
	}
}

func TestSelectionFlow(t *testing.T) {
	s := newTestSession(defaultClient())
	ctx := context.Background()

	assert.Equal(t, StateIdle, s.CurrentState())

	runs, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	assert.Equal(t, StateDateChosen, s.CurrentState())
	require.Len(t, runs.Runs, 1)
	assert.Nil(t, runs.Alert)

	windows, err := s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)
	assert.Equal(t, StateRunChosen, s.CurrentState())
	assert.Equal(t, []string{
		"2024-07-22 06:00:00",
		"2024-07-22 06:30:00",
		"2024-07-22 07:00:00",
	}, windows.Windows)

	out, err := s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	assert.Equal(t, StateWindowChosen, s.CurrentState())
	assert.Equal(t, OutcomeLoaded, out.Outcome)
	assert.Equal(t, 2, out.RowCount)
	assert.Nil(t, out.Alert)
	assert.Equal(t, 4, s.ChartCount())

	_, ok := s.ChartHTML()
	assert.True(t, ok)
}

func TestEmptyRunListShowsServerMessage(t *testing.T) {
	client := defaultClient()
	client.runs = func(date string) (*dataservice.RunList, error) {
		list := &dataservice.RunList{Runs: []models.Run{}}
		list.Success = true
		list.Message = "No LRVs ran on 2024-07-23."
		return list, nil
	}
	s := newTestSession(client)

	res, err := s.SelectDate(context.Background(), "2024-07-23")
	require.NoError(t, err)
	assert.Empty(t, res.Runs)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "warning", res.Alert.Level)
	assert.Equal(t, "No LRVs ran on 2024-07-23.", res.Alert.Text)
}

func TestEmptyRunListWithoutMessage(t *testing.T) {
	client := defaultClient()
	client.runs = func(date string) (*dataservice.RunList, error) {
		list := &dataservice.RunList{}
		list.Success = true
		return list, nil
	}
	s := newTestSession(client)

	res, err := s.SelectDate(context.Background(), "2024-07-23")
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "warning", res.Alert.Level)
	assert.Equal(t, "No LRVs found for the selected date.", res.Alert.Text)
}

func TestSelectRunRequiresDate(t *testing.T) {
	s := newTestSession(defaultClient())

	_, err := s.SelectRun(context.Background(), "RS-17", "2041")
	assert.Error(t, err)
	assert.Equal(t, StateIdle, s.CurrentState())
}

func TestSelectWindowRequiresRun(t *testing.T) {
	s := newTestSession(defaultClient())
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)

	_, err = s.SelectWindow(ctx, "2024-07-22 06:30:00")
	assert.Error(t, err)
	assert.Equal(t, StateDateChosen, s.CurrentState())
}

func TestDateChangeDisposesEverything(t *testing.T) {
	s := newTestSession(defaultClient())
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)
	out, err := s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	require.Equal(t, OutcomeLoaded, out.Outcome)

	// Activate the map from a clicked point.
	_, err = s.ShowPosition(ctx, 51.5, -0.1)
	require.NoError(t, err)
	require.NotNil(t, s.MapView())

	_, err = s.SelectDate(ctx, "2024-07-23")
	require.NoError(t, err)

	assert.Equal(t, 0, s.ChartCount())
	assert.Nil(t, s.MapView())
	assert.Equal(t, OutcomeNone, s.Outcome())

	snap := s.Snapshot()
	assert.Equal(t, "2024-07-23", snap.Selection.Date)
	assert.Empty(t, snap.Selection.RunsheetID)
	assert.Empty(t, snap.Windows)
}

func TestPositionClickAfterTeardownStaysDown(t *testing.T) {
	s := newTestSession(defaultClient())
	ctx := context.Background()

	// A click before any window has loaded does nothing.
	nearest, err := s.ShowPosition(ctx, 51.5, -0.1)
	require.NoError(t, err)
	assert.Nil(t, nearest)
	assert.Nil(t, s.MapView())

	_, err = s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)
	out, err := s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	require.Equal(t, OutcomeLoaded, out.Outcome)

	_, err = s.ShowPosition(ctx, 51.5, -0.1)
	require.NoError(t, err)
	require.NotNil(t, s.MapView())

	_, err = s.SelectDate(ctx, "2024-07-23")
	require.NoError(t, err)
	require.Nil(t, s.MapView())

	// A click from a chart iframe outliving the date change must not
	// resurrect the map.
	nearest, err = s.ShowPosition(ctx, 51.6, -0.2)
	require.NoError(t, err)
	assert.Nil(t, nearest)
	assert.Nil(t, s.MapView())
}

func TestRunChangeKeepsDateDisposesCharts(t *testing.T) {
	s := newTestSession(defaultClient())
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)
	_, err = s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	require.Equal(t, 4, s.ChartCount())

	_, err = s.SelectRun(ctx, "RS-18", "2043")
	require.NoError(t, err)

	assert.Equal(t, 0, s.ChartCount())
	snap := s.Snapshot()
	assert.Equal(t, "2024-07-22", snap.Selection.Date)
	assert.Equal(t, "RS-18", snap.Selection.RunsheetID)
	assert.Empty(t, snap.Selection.WindowTime)
}

func TestEmptyWindowOutcome(t *testing.T) {
	client := defaultClient()
	client.samples = func(leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error) {
		set := &dataservice.SampleSet{}
		set.Success = true
		return set, nil
	}
	s := newTestSession(client)
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)

	out, err := s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, out.Outcome)
	require.NotNil(t, out.Alert)
	assert.Equal(t, "warning", out.Alert.Level)
	assert.Equal(t, "No data available for runsheet id: RS-17 LRV: 2041", out.Alert.Text)
	assert.Equal(t, 0, s.ChartCount())
}

func TestRejectedWindowTreatedAsNoData(t *testing.T) {
	client := defaultClient()
	client.samples = func(leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error) {
		set := &dataservice.SampleSet{}
		set.Error = "unknown runsheet"
		return set, nil
	}
	s := newTestSession(client)
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)

	out, err := s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, out.Outcome)
	require.NotNil(t, out.Alert)
	assert.Equal(t, "warning", out.Alert.Level)
}

func TestTransportFailureOutcome(t *testing.T) {
	client := defaultClient()
	client.samples = func(leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error) {
		return nil, &dataservice.TransportError{Status: 500, Message: "db timeout"}
	}
	s := newTestSession(client)
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)

	out, err := s.SelectWindow(ctx, "2024-07-22 06:30:00")
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, out.Outcome)
	require.NotNil(t, out.Alert)
	assert.Equal(t, "error", out.Alert.Level)
	assert.Equal(t, "Error: db timeout", out.Alert.Text)
}

func TestStaleWindowFetchDiscarded(t *testing.T) {
	client := defaultClient()
	s := newTestSession(client)
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)
	_, err = s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)

	// A reset lands while the fetch is in flight.
	client.samples = func(leadLRV, runsheetID, windowTime string) (*dataservice.SampleSet, error) {
		s.Reset()
		return goodSampleSet(), nil
	}

	_, err = s.SelectWindow(ctx, "2024-07-22 06:30:00")
	assert.True(t, errors.Is(err, ErrStale))

	// The stale result installed nothing.
	assert.Equal(t, 0, s.ChartCount())
	assert.Equal(t, OutcomeNone, s.Outcome())
	assert.Equal(t, StateIdle, s.CurrentState())
}

func TestStaleRunListDiscarded(t *testing.T) {
	client := defaultClient()
	s := newTestSession(client)
	ctx := context.Background()

	first := true
	client.runs = func(date string) (*dataservice.RunList, error) {
		if first {
			first = false
			// A newer date selection arrives before this one resolves.
			_, err := s.SelectDate(ctx, "2024-07-23")
			require.NoError(t, err)
		}
		list := &dataservice.RunList{Runs: []models.Run{{RunsheetID: "RS-17", LeadLRV: "2041"}}}
		list.Success = true
		return list, nil
	}

	_, err := s.SelectDate(ctx, "2024-07-22")
	assert.True(t, errors.Is(err, ErrStale))
	assert.Equal(t, "2024-07-23", s.Snapshot().Selection.Date)
}

func TestNoWindowsForRun(t *testing.T) {
	client := defaultClient()
	client.bounds = func(runsheetID, date, leadLRV string) (*dataservice.WindowBounds, error) {
		b := &dataservice.WindowBounds{}
		b.Success = true
		return b, nil
	}
	s := newTestSession(client)
	ctx := context.Background()

	_, err := s.SelectDate(ctx, "2024-07-22")
	require.NoError(t, err)

	res, err := s.SelectRun(ctx, "RS-17", "2041")
	require.NoError(t, err)
	assert.Empty(t, res.Windows)
	require.NotNil(t, res.Alert)
	assert.Equal(t, "No time data found for this LRV.", res.Alert.Text)
}

func TestDeepLinkActivation(t *testing.T) {
	client := defaultClient()
	var gotDate, gotTime string
	client.byDate = func(runsheetID, leadLRV, date, windowTime string) (*dataservice.SampleSet, error) {
		gotDate, gotTime = date, windowTime
		return goodSampleSet(), nil
	}
	s := newTestSession(client)

	out, err := s.Activate(context.Background(), DeepLink{
		RunsheetID: "RS-17",
		LeadLRV:    "2041",
		Date:       "22 Jul 24",
		Time:       "2024-07-22 06:30:00",
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-07-22", gotDate)
	assert.Equal(t, "2024-07-22 06:30:00", gotTime)
	assert.Equal(t, StateWindowChosen, s.CurrentState())
	assert.Equal(t, OutcomeLoaded, out.Outcome)
	assert.Equal(t, 4, s.ChartCount())
}

func TestDeepLinkRequiresAllParams(t *testing.T) {
	s := newTestSession(defaultClient())

	_, err := s.Activate(context.Background(), DeepLink{
		RunsheetID: "RS-17",
		LeadLRV:    "2041",
		Date:       "22 Jul 24",
	})
	assert.Error(t, err)
	assert.Equal(t, StateIdle, s.CurrentState())
}

func TestSelectDateRequiresValue(t *testing.T) {
	s := newTestSession(defaultClient())

	_, err := s.SelectDate(context.Background(), "   ")
	assert.Error(t, err)
	assert.Equal(t, StateIdle, s.CurrentState())
}
