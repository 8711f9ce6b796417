package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"routedesk/internal/config"
	"routedesk/internal/desk"
	"routedesk/internal/metrics"
	"routedesk/internal/store"
)

const defaultTenant = "t_demo"

type Server struct {
	Desks  *desk.Registry
	Broker EventBroker
	Store  store.Store
	Config *config.Config

	log       zerolog.Logger
	heartbeat time.Duration

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(desks *desk.Registry, broker EventBroker, st store.Store, cfg *config.Config, log zerolog.Logger) *Server {
	if broker == nil {
		broker = NewBroker()
	}
	return &Server{
		Desks:     desks,
		Broker:    broker,
		Store:     st,
		Config:    cfg,
		log:       log.With().Str("component", "api").Logger(),
		heartbeat: 15 * time.Second,
		limiters:  map[string]*rate.Limiter{},
	}
}

// Router builds the HTTP handler with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Config.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Get("/debug/info", s.DebugJSON)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/sequence", s.SequenceHandler)
		r.Get("/ws", s.WSHandler)
		r.Route("/desk", func(r chi.Router) {
			r.Get("/", s.GetDesk)
			r.Put("/depot", s.PutDepot)
			r.Put("/start-time", s.PutStartTime)
			r.Put("/auto-refresh", s.PutAutoRefresh)
			r.Post("/refresh", s.PostRefresh)
			r.Post("/stops", s.PostStop)
			r.Delete("/stops/{id}", s.DeleteStop)
			r.Post("/reorder", s.PostReorder)
			r.Get("/customers", s.ListCustomers)
			r.Post("/customers", s.PostCustomer)
			r.Delete("/customers/{id}", s.DeleteCustomer)
			r.Post("/customers/{id}/stop", s.PostCustomerStop)
			r.Get("/routes", s.ListRoutes)
			r.Post("/routes", s.PostRoute)
			r.Post("/routes/{id}/load", s.LoadRoute)
			r.Delete("/routes/{id}", s.DeleteRoute)
			r.Get("/events/stream", s.StreamHandler)
		})
	})
	return r
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	if tenant == "" {
		tenant = strings.TrimSpace(r.URL.Query().Get("tenantId"))
	}
	if tenant == "" {
		tenant = defaultTenant
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// desk resolves the request's tenant desk, writing a problem on failure.
func (s *Server) desk(w http.ResponseWriter, r *http.Request) (*desk.Desk, bool) {
	ctx, tenant := s.withTenant(r)
	d, err := s.Desks.Get(ctx, tenant)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return d, true
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the store when it supports it.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.Store.(store.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
