package route

import (
	"routedesk/internal/geo"
	"routedesk/internal/model"
)

// Measure computes route metrics for seq starting at origin.
//
// Distance is the sum of every leg in km and ignores annotations. Duration is
// the last stop's ETA minus startTime; it is unavailable when either side is
// missing or unparseable. Negative durations are returned as is.
func Measure(origin model.Coordinate, seq model.Sequence, startTime string) model.RouteMetrics {
	return model.RouteMetrics{
		DistanceKm: Distance(origin, seq),
		Duration:   Duration(seq, startTime),
	}
}

func Distance(origin model.Coordinate, seq model.Sequence) float64 {
	total := 0.0
	prev := origin
	for _, s := range seq {
		total += geo.Km(prev, s.Coords)
		prev = s.Coords
	}
	return total
}

func Duration(seq model.Sequence, startTime string) model.Duration {
	last, ok := seq.Last()
	if !ok || last.EstimatedTime == "" {
		return model.Unavailable()
	}
	start, err := ParseClock(startTime)
	if err != nil {
		return model.Unavailable()
	}
	end, err := ParseClock(last.EstimatedTime)
	if err != nil {
		return model.Unavailable()
	}
	return model.Duration{Minutes: end - start, Available: true}
}
