package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const eventSnapshot = "snapshot"

// StreamHandler serves GET /v1/desk/events/stream as server-sent events. The
// first event is the current view; applied route updates follow, with
// heartbeats in between.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	tenant := d.TenantID()

	// subscribe before reading the view so no update falls in between
	ch := s.Broker.Subscribe(tenant)
	defer s.Broker.Unsubscribe(tenant, ch)

	v, err := d.View(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := json.Marshal(v)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	writeSSE(w, eventSnapshot, snap)
	flusher.Flush()

	hb := time.NewTicker(s.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, evt.Type, evt.Data)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"tenantId\":%q,\"ts\":%q}\n\n", tenant, time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
