package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routedesk/internal/config"
	"routedesk/internal/desk"
	"routedesk/internal/estimator"
	"routedesk/internal/geocode"
	"routedesk/internal/model"
	"routedesk/internal/route"
	"routedesk/internal/store"
)

type testEnv struct {
	srv    *Server
	h      http.Handler
	reg    *desk.Registry
	broker *Broker
}

func quarterHourETAs(ctx context.Context, req estimator.Request) (estimator.Result, error) {
	start, err := route.ParseClock(req.StartTime)
	if err != nil {
		return estimator.Result{}, err
	}
	res := estimator.Result{Summary: fmt.Sprintf("%d stops", len(req.Stops))}
	for i, s := range req.Stops {
		res.ETAs = append(res.ETAs, model.Annotation{StopID: s.ID, ETA: route.FormatClock(start + 15*(i+1)), Traffic: model.TrafficLight})
	}
	return res, nil
}

type fakeResolver map[string]model.Coordinate

func (f fakeResolver) Resolve(_ context.Context, q string) (model.Stop, error) {
	c, ok := f[q]
	if !ok {
		return model.Stop{}, geocode.ErrNoMatch
	}
	return model.Stop{ID: "geo-" + q, Name: q, Address: q + ", Springfield", Priority: model.PriorityMedium, Coords: c}, nil
}

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{AllowOrigins: []string{"*"}, StartTime: "09:00 AM"}
	}
	broker := NewBroker()
	st := store.NewMemory()
	reg := desk.NewRegistry(desk.Options{
		Estimator:    estimator.Func(quarterHourETAs),
		Resolver:     fakeResolver{"town hall": {Lat: 0, Lng: 5}},
		Store:        st,
		Notifier:     &Fanout{Broker: broker, Log: zerolog.Nop()},
		Logger:       zerolog.Nop(),
		DefaultStart: "09:00 AM",
	})
	t.Cleanup(reg.Close)
	srv := NewServer(reg, broker, st, cfg, zerolog.Nop())
	return testEnv{srv: srv, h: srv.Router(), reg: reg, broker: broker}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func (e testEnv) settle(t *testing.T) {
	t.Helper()
	d, err := e.reg.Get(context.Background(), "t_test")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Settle(ctx))
}

func (e testEnv) view(t *testing.T) desk.View {
	t.Helper()
	rr := e.do(t, http.MethodGet, "/v1/desk", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var v desk.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestHealthReady(t *testing.T) {
	e := newTestEnv(t, nil)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "").Code)

	rr := e.do(t, http.MethodGet, "/debug/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Contains(t, info, "build")
	assert.Contains(t, info, "config")
}

func TestSequenceEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	body := `{
		"depot": {"lat": 0, "lng": 0},
		"startTime": "09:00 AM",
		"stops": [
			{"id": "far", "coords": {"lat": 0, "lng": 3}},
			{"id": "near", "coords": {"lat": 0, "lng": 1}, "estimatedTime": "10:00 AM"},
			{"id": "mid", "coords": {"lat": 0, "lng": 2}, "estimatedTime": "11:30 AM"}
		]
	}`
	rr := e.do(t, http.MethodPost, "/v1/sequence", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Sequence model.Sequence     `json:"sequence"`
		Metrics  model.RouteMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"near", "mid", "far"}, resp.Sequence.IDs())
	assert.InDelta(t, 333.0, resp.Metrics.DistanceKm, 1e-9)
	assert.False(t, resp.Metrics.Duration.Available, "last stop has no estimate")
}

func TestSequenceEndpointRejectsBadInput(t *testing.T) {
	e := newTestEnv(t, nil)
	cases := map[string]string{
		"missing depot": `{"stops":[]}`,
		"bad latitude":  `{"depot":{"lat":91,"lng":0},"stops":[]}`,
		"duplicate ids": `{"depot":{"lat":0,"lng":0},"stops":[{"id":"a","coords":{"lat":0,"lng":1}},{"id":"a","coords":{"lat":0,"lng":2}}]}`,
		"bad priority":  `{"depot":{"lat":0,"lng":0},"stops":[{"id":"a","priority":"urgent","coords":{"lat":0,"lng":1}}]}`,
		"unknown field": `{"depot":{"lat":0,"lng":0},"stops":[],"vehicles":2}`,
		"not json":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/v1/sequence", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, http.StatusBadRequest, decodeProblem(t, rr).Status)
		})
	}
}

func TestDeskStopLifecycle(t *testing.T) {
	e := newTestEnv(t, nil)

	for _, s := range []struct {
		name string
		lng  float64
	}{{"far", 3}, {"near", 1}, {"mid", 2}} {
		rr := e.do(t, http.MethodPost, "/v1/desk/stops", fmt.Sprintf(`{"name":%q,"coords":{"lat":0,"lng":%v}}`, s.name, s.lng))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	e.settle(t)

	v := e.view(t)
	require.Len(t, v.Stops, 3)
	names := []string{v.Stops[0].Name, v.Stops[1].Name, v.Stops[2].Name}
	assert.Equal(t, []string{"near", "mid", "far"}, names)
	assert.Equal(t, "09:15 AM", v.Stops[0].EstimatedTime)
	assert.Equal(t, "3 stops", v.Summary)
	assert.Equal(t, "0h 45m", v.Metrics.Duration.String())
	assert.False(t, v.InProgress)

	rr := e.do(t, http.MethodDelete, "/v1/desk/stops/"+v.Stops[1].ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	e.settle(t)
	v = e.view(t)
	require.Len(t, v.Stops, 2)
	assert.Equal(t, "09:30 AM", v.Stops[1].EstimatedTime)

	rr = e.do(t, http.MethodDelete, "/v1/desk/stops/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeskStopFromQuery(t *testing.T) {
	e := newTestEnv(t, nil)

	rr := e.do(t, http.MethodPost, "/v1/desk/stops", `{"query":"town hall","priority":"high"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var stop model.Stop
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stop))
	assert.Equal(t, "town hall", stop.Name)
	assert.Equal(t, model.PriorityHigh, stop.Priority)

	rr = e.do(t, http.MethodPost, "/v1/desk/stops", `{"query":"atlantis"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"nowhere"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/desk/stops", `{"query":"town hall","coords":{"lat":0,"lng":1}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeskReorder(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"a","coords":{"lat":0,"lng":1}}`)
	e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"b","coords":{"lat":0,"lng":2}}`)
	e.settle(t)
	v := e.view(t)
	require.Len(t, v.Stops, 2)

	ids := []string{v.Stops[1].ID, v.Stops[0].ID}
	body, _ := json.Marshal(map[string]any{"ids": ids})
	rr := e.do(t, http.MethodPost, "/v1/desk/reorder", string(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	e.settle(t)
	assert.Equal(t, ids, e.view(t).Stops.IDs())

	rr = e.do(t, http.MethodPost, "/v1/desk/reorder", `{"ids":["only-one"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestDeskSettings(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"a","coords":{"lat":0,"lng":1}}`)

	rr := e.do(t, http.MethodPut, "/v1/desk/start-time", `{"startTime":"8:00 am"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	e.settle(t)
	v := e.view(t)
	assert.Equal(t, "08:15 AM", v.Stops[0].EstimatedTime)

	rr = e.do(t, http.MethodPut, "/v1/desk/start-time", `{"startTime":"25:00"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPut, "/v1/desk/depot", `{"lat":1.5,"lng":2.5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	e.settle(t)
	assert.Equal(t, model.Coordinate{Lat: 1.5, Lng: 2.5}, e.view(t).Depot)

	rr = e.do(t, http.MethodPut, "/v1/desk/depot", `{"lat":1.5}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPut, "/v1/desk/auto-refresh", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, e.view(t).Preferences.AutoRefresh)

	rr = e.do(t, http.MethodPost, "/v1/desk/refresh", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	e.settle(t)
}

func TestDeskCustomersAndRoutes(t *testing.T) {
	e := newTestEnv(t, nil)

	rr := e.do(t, http.MethodPost, "/v1/desk/customers", `{"name":"Acme","address":"1 Main St","coords":{"lat":0,"lng":4}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var c model.Customer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	require.NotEmpty(t, c.ID)

	rr = e.do(t, http.MethodGet, "/v1/desk/customers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Acme")

	rr = e.do(t, http.MethodPost, "/v1/desk/customers/"+c.ID+"/stop", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = e.do(t, http.MethodPost, "/v1/desk/customers/missing/stop", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	e.settle(t)

	rr = e.do(t, http.MethodPost, "/v1/desk/routes", `{"name":"Monday"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var saved model.SavedRoute
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	require.Len(t, saved.Stops, 1)

	e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"extra","coords":{"lat":0,"lng":1}}`)
	e.settle(t)
	require.Len(t, e.view(t).Stops, 2)

	rr = e.do(t, http.MethodPost, "/v1/desk/routes/"+saved.ID+"/load", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	e.settle(t)
	v := e.view(t)
	require.Len(t, v.Stops, 1)
	assert.Equal(t, "Acme", v.Stops[0].Name)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/v1/desk/routes/"+saved.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/v1/desk/routes/"+saved.ID, "").Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/v1/desk/customers/"+c.ID, "").Code)
}

func TestTenantsAreIsolated(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"a","coords":{"lat":0,"lng":1}}`)
	e.settle(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/desk", nil)
	req.Header.Set("X-Tenant-Id", "t_other")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var v desk.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.Equal(t, "t_other", v.TenantID)
	assert.Empty(t, v.Stops)
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, &config.Config{AllowOrigins: []string{"*"}, RateRPS: 0.001, RateBurst: 2})
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/desk", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/desk", "").Code)
	rr := e.do(t, http.MethodGet, "/v1/desk", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// health checks are not limited
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(t, http.MethodGet, "/healthz", "")
	rr := e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestStreamSendsSnapshotThenUpdates(t *testing.T) {
	e := newTestEnv(t, nil)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/desk/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-Id", "t_test")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	event, data := readSSE(t, rd)
	assert.Equal(t, "snapshot", event)
	assert.Contains(t, data, `"tenantId":"t_test"`)

	post, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/desk/stops", bytes.NewReader([]byte(`{"name":"a","coords":{"lat":0,"lng":1}}`)))
	require.NoError(t, err)
	post.Header.Set("X-Tenant-Id", "t_test")
	pr, err := ts.Client().Do(post)
	require.NoError(t, err)
	pr.Body.Close()
	require.Equal(t, http.StatusCreated, pr.StatusCode)

	event, data = readSSE(t, rd)
	assert.Equal(t, desk.EventRouteUpdated, event)
	var v desk.View
	require.NoError(t, json.Unmarshal([]byte(data), &v))
	require.Len(t, v.Stops, 1)
	assert.Equal(t, "09:15 AM", v.Stops[0].EstimatedTime)
}

// readSSE returns the next non-heartbeat event.
func readSSE(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			if event != "heartbeat" {
				return event, data
			}
			event, data = "", ""
		}
	}
}

func TestWebSocketSubscription(t *testing.T) {
	e := newTestEnv(t, nil)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?tenantId=t_test"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connection_ack", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1"}))
	var next struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Payload struct {
			Data SSEEvent `json:"data"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "next", next.Type)
	assert.Equal(t, "1", next.ID)
	assert.Equal(t, "snapshot", next.Payload.Data.Type)

	rr := e.do(t, http.MethodPost, "/v1/desk/stops", `{"name":"a","coords":{"lat":0,"lng":1}}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "next", next.Type)
	assert.Equal(t, desk.EventRouteUpdated, next.Payload.Data.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "complete", ID: "1"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)
	assert.Equal(t, "1", msg.ID)
}
