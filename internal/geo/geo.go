// Package geo correlates clicked telemetry samples with track
// geography: it owns the single live map view and answers
// nearest-station queries.
package geo

import (
	"math"

	"github.com/transitworks/rideview/internal/models"
)

// earthRadiusKm is the mean Earth radius used for great-circle
// distances.
const earthRadiusKm = 6371

// HaversineKm returns the great-circle distance in kilometres between
// two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := deg2rad(lat2 - lat1)
	dLng := deg2rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(lat1))*math.Cos(deg2rad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func deg2rad(deg float64) float64 {
	return deg * (math.Pi / 180)
}

// NearestStation scans stations for the one closest to (lat, lng).
// Ties resolve to the station encountered first in the given order.
// ok is false when the set is empty.
func NearestStation(stations []models.Station, lat, lng float64) (nearest models.Station, ok bool) {
	minDist := math.Inf(1)
	for _, st := range stations {
		d := HaversineKm(lat, lng, st.Lat, st.Lng)
		if d < minDist {
			minDist = d
			nearest = st
			ok = true
		}
	}
	return nearest, ok
}
