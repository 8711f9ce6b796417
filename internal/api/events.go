package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"routedesk/internal/desk"
	"routedesk/internal/webhooks"
)

// Fanout forwards applied desk updates to live subscribers and webhooks.
type Fanout struct {
	Broker   EventBroker
	Webhooks *webhooks.Publisher
	Log      zerolog.Logger
}

var _ desk.Notifier = (*Fanout)(nil)

func (f *Fanout) Notify(tenantID, eventType string, view desk.View) {
	data, err := json.Marshal(view)
	if err != nil {
		f.Log.Error().Err(err).Str("tenant", tenantID).Msg("encode event")
		return
	}
	if f.Broker != nil {
		f.Broker.Publish(tenantID, SSEEvent{Type: eventType, Data: data})
	}
	if f.Webhooks.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.Webhooks.Emit(ctx, tenantID, eventType, json.RawMessage(data))
	}
}
