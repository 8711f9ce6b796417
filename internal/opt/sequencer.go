package opt

import (
	"math"

	"routedesk/internal/geo"
	"routedesk/internal/model"
)

// PriorityFactor shrinks the apparent distance of urgent stops so they are
// picked earlier without sorting the route by priority alone.
func PriorityFactor(p model.Priority) float64 {
	switch p {
	case model.PriorityHigh:
		return 0.7
	case model.PriorityMedium:
		return 0.9
	default:
		return 1.0
	}
}

// Sequence orders stops with a priority-weighted greedy nearest-neighbor walk
// starting at origin.
//
// At each step the remaining stop with the smallest distance*PriorityFactor is
// visited next; ties go to the stop that came first in the input. The result is
// always a permutation of stops. It is O(n^2) and makes no optimality claim.
func Sequence(origin model.Coordinate, stops []model.Stop) model.Sequence {
	out := make(model.Sequence, 0, len(stops))
	if len(stops) == 0 {
		return out
	}

	pool := make([]model.Stop, len(stops))
	copy(pool, stops)

	current := origin
	for len(pool) > 0 {
		best := -1
		bestWeighted := math.Inf(1)
		for i, s := range pool {
			w := geo.Distance(current, s.Coords) * PriorityFactor(s.Priority)
			// strict comparison keeps the earliest stop on ties
			if w < bestWeighted {
				bestWeighted = w
				best = i
			}
		}
		if best < 0 {
			// only reachable with NaN weights; fall back to pool order
			best = 0
		}

		next := pool[best]
		out = append(out, next)
		current = next.Coords
		pool = append(pool[:best], pool[best+1:]...)
	}

	return out
}
