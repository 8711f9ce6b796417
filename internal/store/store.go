package store

import (
	"context"
	"errors"

	"routedesk/internal/model"
)

// Store persists one opaque desk snapshot per tenant.
type Store interface {
	LoadSnapshot(ctx context.Context, tenantID string) (model.Snapshot, error)
	SaveSnapshot(ctx context.Context, tenantID string, snap model.Snapshot) error
}

// Pinger is implemented by backends with a remote dependency; readiness checks use it.
type Pinger interface {
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")
