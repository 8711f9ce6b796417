package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Core domain types shared by the engine, the desk and the transports.

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is an immutable latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewCoordinate rejects non-finite values so they never reach the sequencer.
func NewCoordinate(lat, lng float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, c.Lat, c.Lng)
	}
	return nil
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts any casing; an empty value means medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

type Traffic string

const (
	TrafficLight    Traffic = "light"
	TrafficModerate Traffic = "moderate"
	TrafficHeavy    Traffic = "heavy"
)

func ParseTraffic(s string) (Traffic, error) {
	switch t := Traffic(strings.ToLower(strings.TrimSpace(s))); t {
	case TrafficLight, TrafficModerate, TrafficHeavy:
		return t, nil
	}
	return "", fmt.Errorf("invalid traffic condition: %q", s)
}

// Stop is a single delivery destination. EstimatedTime and Traffic stay empty
// until an estimation round completes.
type Stop struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Address       string     `json:"address"`
	Priority      Priority   `json:"priority"`
	Coords        Coordinate `json:"coords"`
	EstimatedTime string     `json:"estimatedTime,omitempty"`
	Traffic       Traffic    `json:"traffic,omitempty"`
}

func (s Stop) Annotated() bool { return s.EstimatedTime != "" || s.Traffic != "" }

// Sequence is an ordered visit list; order is the contract.
type Sequence []Stop

func (q Sequence) IDs() []string {
	out := make([]string, len(q))
	for i, s := range q {
		out[i] = s.ID
	}
	return out
}

func (q Sequence) Clone() Sequence {
	if q == nil {
		return nil
	}
	out := make(Sequence, len(q))
	copy(out, q)
	return out
}

// ClearAnnotations returns a copy with both optional fields unset.
func (q Sequence) ClearAnnotations() Sequence {
	out := q.Clone()
	for i := range out {
		out[i].EstimatedTime = ""
		out[i].Traffic = ""
	}
	return out
}

// Last returns the final stop of the sequence.
func (q Sequence) Last() (Stop, bool) {
	if len(q) == 0 {
		return Stop{}, false
	}
	return q[len(q)-1], true
}

// Annotation is one per-stop estimator result.
type Annotation struct {
	StopID  string  `json:"id"`
	ETA     string  `json:"eta"`
	Traffic Traffic `json:"traffic"`
}

// Duration is an elapsed route time; Available is false when it could not be derived.
type Duration struct {
	Minutes   int  `json:"minutes"`
	Available bool `json:"available"`
}

func Unavailable() Duration { return Duration{} }

// String renders "2h 30m", or "unavailable". Negative values keep their sign on the hour part.
func (d Duration) String() string {
	if !d.Available {
		return "unavailable"
	}
	m := d.Minutes
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s%dh %dm", sign, m/60, m%60)
}

type durationJSON struct {
	Minutes   int    `json:"minutes"`
	Available bool   `json:"available"`
	Text      string `json:"text"`
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(durationJSON{Minutes: d.Minutes, Available: d.Available, Text: d.String()})
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v durationJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	d.Minutes, d.Available = v.Minutes, v.Available
	return nil
}

type RouteMetrics struct {
	DistanceKm float64  `json:"distanceKm"`
	Duration   Duration `json:"duration"`
}

// Customer is a saved address book entry a stop can be created from.
type Customer struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Address string     `json:"address"`
	Coords  Coordinate `json:"coords"`
}

// SavedRoute is a named stop list that can be loaded back onto the desk.
type SavedRoute struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Stops   []Stop    `json:"stops"`
	SavedAt time.Time `json:"savedAt"`
}

type Preferences struct {
	StartTime   string `json:"startTime"`
	AutoRefresh bool   `json:"autoRefresh"`
}

// Snapshot is the full persisted desk state. Stores treat it as opaque.
type Snapshot struct {
	Stops       []Stop       `json:"stops"`
	Customers   []Customer   `json:"customers"`
	Routes      []SavedRoute `json:"routes"`
	Summary     string       `json:"summary"`
	Depot       Coordinate   `json:"depot"`
	Preferences Preferences  `json:"preferences"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
