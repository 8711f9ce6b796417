package estimator

import (
	"context"
	"fmt"
	"math"

	"routedesk/internal/geo"
	"routedesk/internal/model"
	"routedesk/internal/route"
)

// LocalEstimator annotates a route offline from an hour-of-day traffic table.
// It is deterministic and needs no network, which makes it the default when no
// remote estimator is configured.
type LocalEstimator struct {
	ServiceMinutes int
	Speeds         map[model.Traffic]float64 // km/h per band
}

func NewLocalEstimator() *LocalEstimator {
	return &LocalEstimator{
		ServiceMinutes: 10,
		Speeds: map[model.Traffic]float64{
			model.TrafficLight:    40,
			model.TrafficModerate: 28,
			model.TrafficHeavy:    16,
		},
	}
}

// trafficAt maps an hour of the day to a congestion band.
func trafficAt(hour int) model.Traffic {
	switch {
	case hour >= 7 && hour < 10, hour >= 16 && hour < 19:
		return model.TrafficHeavy
	case hour >= 10 && hour < 16:
		return model.TrafficModerate
	default:
		return model.TrafficLight
	}
}

func (l *LocalEstimator) Estimate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start, err := route.ParseClock(req.StartTime)
	if err != nil {
		return Result{}, fmt.Errorf("local estimate: %w", err)
	}

	res := Result{ETAs: make([]model.Annotation, 0, len(req.Stops))}
	if len(req.Stops) == 0 {
		res.Summary = "No stops to estimate."
		return res, nil
	}

	clock := float64(start)
	prev := req.depot
	km := 0.0
	heavy := 0
	for i, s := range req.Stops {
		var here model.Coordinate
		if i < len(req.coords) {
			here = req.coords[i]
		}
		band := trafficAt((int(clock) / 60) % 24)
		if band == model.TrafficHeavy {
			heavy++
		}
		leg := geo.Km(prev, here)
		km += leg
		clock += leg / l.speed(band) * 60
		res.ETAs = append(res.ETAs, model.Annotation{
			StopID:  s.ID,
			ETA:     route.FormatClock(int(math.Round(clock))),
			Traffic: band,
		})
		clock += float64(l.ServiceMinutes)
		prev = here
	}

	last := res.ETAs[len(res.ETAs)-1].ETA
	res.Summary = fmt.Sprintf("%d stops over %.1f km, last arrival around %s", len(req.Stops), km, last)
	if heavy > 0 {
		res.Summary += fmt.Sprintf("; heavy traffic expected on %d of %d legs", heavy, len(req.Stops))
	}
	res.Summary += "."
	return res, nil
}

func (l *LocalEstimator) speed(t model.Traffic) float64 {
	if v, ok := l.Speeds[t]; ok && v > 0 {
		return v
	}
	return 30
}
