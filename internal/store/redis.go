package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"routedesk/internal/model"
)

// Redis stores msgpack-encoded snapshots under routedesk:snapshot:<tenant>.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects with a redis:// URL. A zero ttl keeps snapshots forever.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisClient(redis.NewClient(opt), ttl), nil
}

func NewRedisClient(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func snapshotKey(tenantID string) string { return "routedesk:snapshot:" + tenantID }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) LoadSnapshot(ctx context.Context, tenantID string) (model.Snapshot, error) {
	b, err := r.rdb.Get(ctx, snapshotKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	var snap model.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *Redis) SaveSnapshot(ctx context.Context, tenantID string, snap model.Snapshot) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.rdb.Set(ctx, snapshotKey(tenantID), buf.Bytes(), r.ttl).Err()
}
