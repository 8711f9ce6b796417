package webhooks

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"routedesk/internal/store"
)

// Publisher fans an event out to every configured subscriber URL.
type Publisher struct {
	Queue  store.DeliveryQueue
	URLs   []string
	Secret string
	log    zerolog.Logger
}

func NewPublisher(q store.DeliveryQueue, urls []string, secret string, log zerolog.Logger) *Publisher {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	return &Publisher{Queue: q, URLs: clean, Secret: secret, log: log.With().Str("component", "webhooks").Logger()}
}

// Enabled reports whether any subscriber is configured.
func (p *Publisher) Enabled() bool { return p != nil && len(p.URLs) > 0 }

// Emit enqueues one delivery per subscriber for the tenant and event type.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	if !p.Enabled() {
		return
	}
	payload := map[string]any{
		"id":       "evt_" + uuid.NewString(),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", eventType).Msg("encode webhook payload")
		return
	}
	for _, u := range p.URLs {
		if _, err := p.Queue.EnqueueWebhook(ctx, tenantID, eventType, u, p.Secret, body); err != nil {
			p.log.Warn().Err(err).Str("url", u).Str("event_type", eventType).Msg("enqueue webhook")
		}
	}
}
