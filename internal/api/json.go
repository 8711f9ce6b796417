package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"routedesk/internal/desk"
	"routedesk/internal/geocode"
	"routedesk/internal/model"
	"routedesk/internal/route"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// decodeJSON reads a single JSON object into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return err
	}
	return validateStruct(v)
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := http.StatusInternalServerError, "Internal Server Error"
	switch {
	case errors.Is(err, desk.ErrUnknownStop), errors.Is(err, desk.ErrUnknownCustomer), errors.Is(err, desk.ErrUnknownRoute):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, desk.ErrBadOrder):
		status, title = http.StatusUnprocessableEntity, "Invalid order"
	case errors.Is(err, desk.ErrInvalid), errors.Is(err, model.ErrInvalidCoordinate), errors.Is(err, route.ErrBadClock):
		status, title = http.StatusBadRequest, "Invalid input"
	case errors.Is(err, geocode.ErrNoMatch):
		status, title = http.StatusUnprocessableEntity, "Address not found"
	case errors.Is(err, geocode.ErrResolution):
		status, title = http.StatusBadGateway, "Address resolution failed"
	case errors.Is(err, desk.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, title = http.StatusServiceUnavailable, "Unavailable"
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
