// Package geocode turns free-text addresses into stops.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"routedesk/internal/model"
)

var (
	ErrResolution = errors.New("address resolution failed")
	ErrNoMatch    = fmt.Errorf("%w: no match", ErrResolution)
)

type Resolver interface {
	Resolve(ctx context.Context, query string) (model.Stop, error)
}

// NominatimResolver queries a Nominatim-compatible /search endpoint.
type NominatimResolver struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewNominatimResolver(baseURL string, timeout time.Duration) *NominatimResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimResolver{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "routedesk/1.0",
		client:    &http.Client{Timeout: timeout},
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

func (n *NominatimResolver) Resolve(ctx context.Context, query string) (model.Stop, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return model.Stop{}, fmt.Errorf("%w: empty query", ErrResolution)
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("q", q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return model.Stop{}, fmt.Errorf("%w: create request: %v", ErrResolution, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return model.Stop{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Stop{}, fmt.Errorf("%w: unexpected status %d", ErrResolution, resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.Stop{}, fmt.Errorf("%w: decode: %v", ErrResolution, err)
	}
	if len(places) == 0 {
		return model.Stop{}, fmt.Errorf("%w for %q", ErrNoMatch, q)
	}

	p := places[0]
	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	lng, errLng := strconv.ParseFloat(p.Lon, 64)
	if errLat != nil || errLng != nil {
		return model.Stop{}, fmt.Errorf("%w: invalid coordinate format for %q", ErrResolution, q)
	}
	coords, err := model.NewCoordinate(lat, lng)
	if err != nil {
		return model.Stop{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}

	return model.Stop{
		ID:       uuid.NewString(),
		Name:     placeName(p, q),
		Address:  p.DisplayName,
		Priority: model.PriorityMedium,
		Coords:   coords,
	}, nil
}

// placeName prefers the place name, then the first display_name component.
func placeName(p place, query string) string {
	if s := strings.TrimSpace(p.Name); s != "" {
		return s
	}
	if first, _, _ := strings.Cut(p.DisplayName, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return query
}
