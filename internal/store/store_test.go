package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routedesk/internal/model"
)

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		Stops: []model.Stop{
			{ID: "s1", Name: "Bakery", Address: "1 Main St", Priority: model.PriorityHigh, Coords: model.Coordinate{Lat: 40.7, Lng: -74.0}, EstimatedTime: "09:20 AM", Traffic: model.TrafficLight},
			{ID: "s2", Name: "Clinic", Address: "9 Elm St", Priority: model.PriorityLow, Coords: model.Coordinate{Lat: 40.8, Lng: -73.9}},
		},
		Customers: []model.Customer{{ID: "c1", Name: "Ann", Address: "3 Oak Ave", Coords: model.Coordinate{Lat: 40.75, Lng: -73.95}}},
		Routes: []model.SavedRoute{{
			ID:      "r1",
			Name:    "Morning",
			Stops:   []model.Stop{{ID: "s9", Name: "Depot run", Priority: model.PriorityMedium}},
			SavedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		}},
		Summary:     "Light traffic.",
		Depot:       model.Coordinate{Lat: 40.71, Lng: -74.01},
		Preferences: model.Preferences{StartTime: "09:00 AM", AutoRefresh: true},
		UpdatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the shared contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.LoadSnapshot(ctx, "t_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	want := sampleSnapshot()
	require.NoError(t, s.SaveSnapshot(ctx, "t_a", want))

	got, err := s.LoadSnapshot(ctx, "t_a")
	require.NoError(t, err)
	assert.Equal(t, want.Stops, got.Stops)
	assert.Equal(t, want.Customers, got.Customers)
	assert.Equal(t, want.Summary, got.Summary)
	assert.Equal(t, want.Depot, got.Depot)
	assert.Equal(t, want.Preferences, got.Preferences)
	require.Len(t, got.Routes, 1)
	assert.Equal(t, want.Routes[0].Stops, got.Routes[0].Stops)
	assert.True(t, want.Routes[0].SavedAt.Equal(got.Routes[0].SavedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	// overwrite
	want.Summary = ""
	want.Stops = want.Stops[:1]
	require.NoError(t, s.SaveSnapshot(ctx, "t_a", want))
	got, err = s.LoadSnapshot(ctx, "t_a")
	require.NoError(t, err)
	assert.Empty(t, got.Summary)
	assert.Len(t, got.Stops, 1)

	// tenants are isolated
	_, err = s.LoadSnapshot(ctx, "t_b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreCopiesOnSave(t *testing.T) {
	m := NewMemory()
	snap := sampleSnapshot()
	require.NoError(t, m.SaveSnapshot(context.Background(), "t", snap))
	snap.Stops[0].Name = "changed"

	got, err := m.LoadSnapshot(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "Bakery", got.Stops[0].Name)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	// migrating twice is harmless
	require.NoError(t, s.Migrate(context.Background()))

	exerciseStore(t, s)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer r.Close()

	exerciseStore(t, r)
	assert.NoError(t, r.Ping(context.Background()))
	assert.True(t, mr.Exists("routedesk:snapshot:t_a"))
	assert.Equal(t, time.Hour, mr.TTL("routedesk:snapshot:t_a"))

	mr.FastForward(2 * time.Hour)
	_, err = r.LoadSnapshot(context.Background(), "t_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenDefaultsToMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{}, zerologNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open(context.Background(), Options{SQLitePath: filepath.Join(t.TempDir(), "x.db")}, zerologNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	exerciseStore(t, s)
}

func TestOpenIgnoresRedisUnlessEnabled(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), Options{RedisURL: "redis://" + mr.Addr()}, zerologNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(context.Background(), Options{RedisURL: "redis://" + mr.Addr(), UseRedis: true}, zerologNop())
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
}
