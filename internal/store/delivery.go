package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type WebhookDelivery struct {
	ID        string
	TenantID  string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Status    string
	Attempts  int
}

// DeliveryQueue holds outbound webhook deliveries until the worker sends them.
type DeliveryQueue interface {
	EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

// MemoryQueue is the in-process delivery queue. Delivered and failed items
// are pruned once they fall out of the retention window.
type MemoryQueue struct {
	mu         sync.Mutex
	order      []string
	deliveries map[string]*memDelivery
	retention  time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{deliveries: map[string]*memDelivery{}, retention: time.Hour}
}

func (q *MemoryQueue) EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.New().String()
	q.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
		NextAttemptAt:   time.Now(),
	}
	q.order = append(q.order, id)
	return id, nil
}

func (q *MemoryQueue) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prune()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range q.order {
		d := q.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (q *MemoryQueue) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (q *MemoryQueue) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	d.NextAttemptAt = time.Now()
	return nil
}

// Status reports the delivery state of id, mostly for tests and admin views.
func (q *MemoryQueue) Status(id string) (status string, attempts int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.deliveries[id]
	if d == nil {
		return "", 0, false
	}
	return d.Status, d.Attempts, true
}

func (q *MemoryQueue) prune() {
	cutoff := time.Now().Add(-q.retention)
	kept := q.order[:0]
	for _, id := range q.order {
		d := q.deliveries[id]
		done := d.Status == "delivered" || d.Status == "failed"
		if done && d.NextAttemptAt.Before(cutoff) && (d.DeliveredAt == nil || d.DeliveredAt.Before(cutoff)) {
			delete(q.deliveries, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}
