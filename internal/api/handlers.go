package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"routedesk/internal/desk"
	"routedesk/internal/model"
	"routedesk/internal/opt"
	"routedesk/internal/route"
)

// SequenceHandler handles POST /v1/sequence. It orders and measures the
// given stops without touching any desk or calling the estimator.
func (s *Server) SequenceHandler(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid sequence request", err.Error(), r.URL.Path)
		return
	}
	stops := make([]model.Stop, 0, len(req.Stops))
	seen := make(map[string]struct{}, len(req.Stops))
	for _, in := range req.Stops {
		if _, dup := seen[in.ID]; dup {
			writeProblem(w, http.StatusBadRequest, "Invalid sequence request", fmt.Sprintf("duplicate stop id %q", in.ID), r.URL.Path)
			return
		}
		seen[in.ID] = struct{}{}
		p, err := model.ParsePriority(in.Priority)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid sequence request", err.Error(), r.URL.Path)
			return
		}
		st := model.Stop{
			ID:            in.ID,
			Name:          in.Name,
			Address:       in.Address,
			Priority:      p,
			Coords:        in.Coords.coordinate(),
			EstimatedTime: in.EstimatedTime,
		}
		if in.Traffic != "" {
			st.Traffic, _ = model.ParseTraffic(in.Traffic)
		}
		stops = append(stops, st)
	}
	depot := req.Depot.coordinate()
	seq := opt.Sequence(depot, stops)
	writeJSON(w, http.StatusOK, map[string]any{
		"sequence": seq,
		"metrics":  route.Measure(depot, seq, req.StartTime),
	})
}

func (s *Server) GetDesk(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	s.writeView(w, r, d, http.StatusOK)
}

// writeView answers with the desk's current view after a mutation.
func (s *Server) writeView(w http.ResponseWriter, r *http.Request, d *desk.Desk, status int) {
	v, err := d.View(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (s *Server) PutDepot(w http.ResponseWriter, r *http.Request) {
	var req depotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid depot", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.SetDepot(r.Context(), req.coordinate()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeView(w, r, d, http.StatusOK)
}

func (s *Server) PutStartTime(w http.ResponseWriter, r *http.Request) {
	var req startTimeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid start time", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.SetStartTime(r.Context(), req.StartTime); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeView(w, r, d, http.StatusOK)
}

func (s *Server) PutAutoRefresh(w http.ResponseWriter, r *http.Request) {
	var req autoRefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid auto refresh setting", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.SetAutoRefresh(r.Context(), *req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeView(w, r, d, http.StatusOK)
}

// PostRefresh re-runs the estimator on the current order.
func (s *Server) PostRefresh(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.Refresh(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeView(w, r, d, http.StatusAccepted)
}

// PostStop adds a stop from explicit coordinates or a free text query.
func (s *Server) PostStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid stop", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	var (
		stop model.Stop
		err  error
	)
	if req.Coords != nil {
		stop, err = d.AddStop(r.Context(), desk.NewStop{
			Name:     req.Name,
			Address:  req.Address,
			Priority: req.Priority,
			Coords:   req.Coords.coordinate(),
		})
	} else {
		stop, err = d.AddStopFromQuery(r.Context(), req.Query, req.Priority)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stop)
}

func (s *Server) DeleteStop(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.RemoveStop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PostReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid reorder", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.Reorder(r.Context(), req.IDs); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeView(w, r, d, http.StatusOK)
}

func (s *Server) ListCustomers(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	v, err := d.View(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": v.Customers})
}

func (s *Server) PostCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid customer", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	c, err := d.SaveCustomer(r.Context(), model.Customer{
		ID:      req.ID,
		Name:    req.Name,
		Address: req.Address,
		Coords:  req.Coords.coordinate(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.DeleteCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostCustomerStop adds a stop at a saved customer's address.
func (s *Server) PostCustomerStop(w http.ResponseWriter, r *http.Request) {
	var req customerStopRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid customer stop", err.Error(), r.URL.Path)
			return
		}
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	stop, err := d.AddStopFromCustomer(r.Context(), chi.URLParam(r, "id"), req.Priority)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stop)
}

func (s *Server) ListRoutes(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	v, err := d.View(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": v.Routes})
}

func (s *Server) PostRoute(w http.ResponseWriter, r *http.Request) {
	var req saveRouteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	rt, err := d.SaveRoute(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) LoadRoute(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.LoadRoute(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeView(w, r, d, http.StatusOK)
}

func (s *Server) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	if err := d.DeleteRoute(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
