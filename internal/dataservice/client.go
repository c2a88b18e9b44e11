// Package dataservice is the HTTP client for the external telemetry
// query service. All endpoints take form-encoded POST input and answer
// JSON with a success flag; the client separates transport failures
// (network errors, non-2xx statuses) from application-level
// success:false responses, which callers classify themselves.
package dataservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/models"
)

// Endpoint paths are fixed by the data service contract.
const (
	pathRunOptions    = "/api/fetch_lrv_options.php"
	pathTimeOptions   = "/api/fetch_time_options.php"
	pathChartData     = "/api/fetch_chart_data.php"
	pathChartDataLink = "/api/fetch_chart_data_URL.php"
	pathStations      = "/fetch_stations.php"
)

// TransportError is a network or non-2xx failure, distinct from an
// application-level success:false. Message is derived from the
// response body's error field when one is present.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	return e.Message
}

// Client talks to the telemetry data service. Failures are terminal
// per request: no retry, no backoff.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// postForm issues one form-encoded POST and decodes the JSON payload
// into out. A non-2xx status yields a *TransportError carrying the
// message derived from the body when the body parses.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Server error: %d", resp.StatusCode),
		}
		var payload envelope
		if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
			te.Message = payload.Error
		}
		c.logger.Error("Data service request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", te.Message))
		return te
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// ListRuns fetches the runs recorded on date ("YYYY-MM-DD"). A
// success response with zero runs is returned as-is; the caller
// renders the accompanying message.
func (c *Client) ListRuns(ctx context.Context, date string) (*RunList, error) {
	form := url.Values{}
	form.Set("date", date)

	var out RunList
	if err := c.postForm(ctx, pathRunOptions, form, &out); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return &out, nil
}

// ListWindowBounds fetches the observed first/last timestamps for a
// run. Only the first bounds entry is used downstream.
func (c *Client) ListWindowBounds(ctx context.Context, runsheetID, date, leadLRV string) (*WindowBounds, error) {
	form := url.Values{}
	form.Set("runsheetId", runsheetID)
	form.Set("date", date)
	form.Set("leadLRV", leadLRV)

	var out WindowBounds
	if err := c.postForm(ctx, pathTimeOptions, form, &out); err != nil {
		return nil, fmt.Errorf("list window bounds: %w", err)
	}
	return &out, nil
}

// FetchSamples fetches the high-rate samples and RMS aggregates for a
// run, optionally restricted to the window starting at windowTime
// ("YYYY-MM-DD HH:mm:ss"). Empty windowTime omits the field.
func (c *Client) FetchSamples(ctx context.Context, leadLRV, runsheetID, windowTime string) (*SampleSet, error) {
	form := url.Values{}
	form.Set("leadLRV", leadLRV)
	form.Set("runsheetId", runsheetID)
	if windowTime != "" {
		form.Set("time", windowTime)
	}

	var out SampleSet
	if err := c.postForm(ctx, pathChartData, form, &out); err != nil {
		return nil, fmt.Errorf("fetch samples: %w", err)
	}
	return &out, nil
}

// FetchSamplesByDate is the deep-link variant: the service resolves
// the window from date + time instead of a pre-listed window label.
func (c *Client) FetchSamplesByDate(ctx context.Context, runsheetID, leadLRV, date, windowTime string) (*SampleSet, error) {
	form := url.Values{}
	form.Set("runsheetId", runsheetID)
	form.Set("leadLRV", leadLRV)
	form.Set("date", date)
	form.Set("time", windowTime)

	var out SampleSet
	if err := c.postForm(ctx, pathChartDataLink, form, &out); err != nil {
		return nil, fmt.Errorf("fetch samples by date: %w", err)
	}
	return &out, nil
}

// ListStations fetches the static station reference points. A
// success:false response yields an empty list, not an error: the map
// still works without station markers.
func (c *Client) ListStations(ctx context.Context) ([]models.Station, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathStations, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list stations: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out stationList
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	if !out.Success {
		c.logger.Warn("Station list fetch reported failure", zap.String("message", out.Message))
		return nil, nil
	}
	return out.Stations, nil
}
