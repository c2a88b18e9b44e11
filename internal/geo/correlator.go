package geo

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/models"
)

// StationSource supplies the static station list, fetched once per map
// activation.
type StationSource interface {
	ListStations(ctx context.Context) ([]models.Station, error)
}

// Marker is one pin on the map view.
type Marker struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Popup string  `json:"popup"`
}

// MapView is the renderable state of the single live map: a center,
// at most one current-position marker and the persistent station
// markers. It exists only while a position is being shown.
type MapView struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Zoom     int      `json:"zoom"`
	Position *Marker  `json:"position"`
	Stations []Marker `json:"stations"`
}

// Correlator maintains the map view and resolves nearest stations for
// clicked sample coordinates. At most one MapView exists at a time;
// Teardown disposes it before any replacement selection state is
// built.
type Correlator struct {
	logger   *zap.Logger
	stations StationSource
	zoom     int

	mu     sync.RWMutex
	view   *MapView
	loaded []models.Station
	active bool
}

func NewCorrelator(logger *zap.Logger, stations StationSource, zoom int) *Correlator {
	return &Correlator{
		logger:   logger,
		stations: stations,
		zoom:     zoom,
	}
}

// ShowPosition centers the map on (lat, lng), creating it on first
// use, and replaces the current-position marker. Non-finite
// coordinates are logged and ignored. The nearest station, when one
// exists, is named in the marker popup and returned.
func (c *Correlator) ShowPosition(ctx context.Context, lat, lng float64) (*models.Station, error) {
	if !isFinite(lat) || !isFinite(lng) {
		c.logger.Warn("Ignoring position with invalid coordinates",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng))
		return nil, nil
	}

	// The station fetch is a network call and must not run under the
	// lock, or every View/Active caller stalls behind it.
	var fetched []models.Station
	var haveFetch bool
	if !c.Active() {
		sts, err := c.stations.ListStations(ctx)
		if err != nil {
			c.logger.Error("Failed to load stations", zap.Error(err))
			sts = nil
		}
		fetched = sts
		haveFetch = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		if !haveFetch {
			// Torn down between the Active check and here. Skip this
			// position rather than fetch under the lock.
			c.logger.Debug("Map torn down during activation, dropping position")
			return nil, nil
		}
		// First activation: the station set is kept for the lifetime
		// of this map.
		c.loaded = fetched
		c.view = &MapView{Zoom: c.zoom}
		for _, st := range fetched {
			c.view.Stations = append(c.view.Stations, Marker{
				Lat:   st.Lat,
				Lng:   st.Lng,
				Popup: fmt.Sprintf("Station: %s", st.Name),
			})
		}
		c.active = true
	}

	c.view.Lat = lat
	c.view.Lng = lng

	popup := fmt.Sprintf("LRV is at Lat: %v, Lng: %v", lat, lng)
	var nearest *models.Station
	if st, ok := NearestStation(c.loaded, lat, lng); ok {
		nearest = &st
		popup = fmt.Sprintf("%s. Closest station: %s (Lat: %v, Lng: %v)",
			popup, st.Name, st.Lat, st.Lng)
	}
	c.view.Position = &Marker{Lat: lat, Lng: lng, Popup: popup}

	c.logger.Debug("Map position updated",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.Int("stations", len(c.loaded)))

	return nearest, nil
}

// View returns the current map view, or nil when no map is active.
func (c *Correlator) View() *MapView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.active {
		return nil
	}
	v := *c.view
	return &v
}

// Active reports whether a map view currently exists.
func (c *Correlator) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Teardown disposes the map view and station markers. The next
// ShowPosition recreates the map and reloads stations.
func (c *Correlator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.view = nil
	c.loaded = nil
	c.active = false
	c.logger.Debug("Map view torn down")
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
