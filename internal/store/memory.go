package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"routedesk/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
// Snapshots are kept encoded so callers never share slices with the store.
type Memory struct {
	mu    sync.Mutex
	snaps map[string][]byte // tenant -> encoded snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: map[string][]byte{}}
}

func (m *Memory) LoadSnapshot(ctx context.Context, tenantID string) (model.Snapshot, error) {
	m.mu.Lock()
	b, ok := m.snaps[tenantID]
	m.mu.Unlock()
	if !ok {
		return model.Snapshot{}, ErrNotFound
	}
	var snap model.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, tenantID string, snap model.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	m.snaps[tenantID] = b
	m.mu.Unlock()
	return nil
}
