package api

import (
	"net/http"
	"time"

	"routedesk/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	info := map[string]any{
		"build":   buildinfo.Info(),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"tenants": s.Desks.Tenants(),
		"config": map[string]any{
			"PORT":                 cfg.Port,
			"LOG_LEVEL":            cfg.LogLevel,
			"ALLOW_ORIGINS":        cfg.AllowOrigins,
			"RATE_RPS":             cfg.RateRPS,
			"RATE_BURST":           cfg.RateBurst,
			"ESTIMATOR_TIMEOUT":    cfg.EstimatorTimeout.String(),
			"START_TIME":           cfg.StartTime,
			"REFRESH_SCHEDULE":     cfg.RefreshSchedule,
			"WEBHOOK_MAX_ATTEMPTS": cfg.WebhookMaxAttempts,
			"WEBHOOK_URLS":         len(cfg.WebhookURLs),
			"HAS_DATABASE_URL":     cfg.DatabaseURL != "",
			"HAS_REDIS_URL":        cfg.RedisURL != "",
			"HAS_ESTIMATOR_URL":    cfg.EstimatorURL != "",
		},
	}
	writeJSON(w, http.StatusOK, info)
}
