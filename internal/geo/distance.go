// Package geo holds the planar distance used for sequencing and route metrics.
package geo

import (
	"math"

	"routedesk/internal/model"
)

// KmPerDegree converts a planar degree distance to an approximate kilometre figure.
const KmPerDegree = 111.0

// Distance is the Euclidean distance over raw latitude/longitude deltas.
// It is not a great-circle distance.
func Distance(a, b model.Coordinate) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// Km scales Distance to kilometres.
func Km(a, b model.Coordinate) float64 {
	return Distance(a, b) * KmPerDegree
}
