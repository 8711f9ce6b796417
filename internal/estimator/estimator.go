// Package estimator defines the contract for per-stop ETA and traffic
// annotation and ships a remote HTTP client plus an offline fallback.
package estimator

import (
	"context"

	"routedesk/internal/model"
)

// Estimator annotates an ordered sequence. Any returned error means no
// annotations are available for the round.
type Estimator interface {
	Estimate(ctx context.Context, req Request) (Result, error)
}

type RequestStop struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Priority model.Priority `json:"priority"`
	Position int            `json:"position"`
}

type Request struct {
	StartTime string        `json:"startTime"`
	Stops     []RequestStop `json:"stops"`

	// coords travel with the request for estimators that compute locally
	coords []model.Coordinate
	depot  model.Coordinate
}

// NewRequest describes seq in visit order. Positions are 1-based.
func NewRequest(seq model.Sequence, startTime string) Request {
	req := Request{
		StartTime: startTime,
		Stops:     make([]RequestStop, len(seq)),
		coords:    make([]model.Coordinate, len(seq)),
	}
	for i, s := range seq {
		req.Stops[i] = RequestStop{
			ID:       s.ID,
			Name:     s.Name,
			Address:  s.Address,
			Priority: s.Priority,
			Position: i + 1,
		}
		req.coords[i] = s.Coords
	}
	return req
}

// WithDepot returns a copy of r that carries the route origin.
func (r Request) WithDepot(depot model.Coordinate) Request {
	r.depot = depot
	return r
}

type Result struct {
	Summary string             `json:"summary"`
	ETAs    []model.Annotation `json:"etas"`
}

// Func adapts a plain function to Estimator.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Estimate(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
