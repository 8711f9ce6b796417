package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routedesk/internal/desk"
	"routedesk/internal/estimator"
	"routedesk/internal/model"
)

type countingEstimator struct {
	mu    sync.Mutex
	calls map[int]int // stop count -> calls
}

func (c *countingEstimator) Estimate(ctx context.Context, req estimator.Request) (estimator.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[len(req.Stops)]++
	return estimator.Result{Summary: "ok"}, nil
}

func (c *countingEstimator) count(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[n]
}

func TestRefreshJobOnlyTouchesOptedInDesks(t *testing.T) {
	est := &countingEstimator{calls: map[int]int{}}
	reg := desk.NewRegistry(desk.Options{Estimator: est, Logger: zerolog.Nop()})
	defer reg.Close()
	ctx := context.Background()

	on, err := reg.Get(ctx, "t_on")
	require.NoError(t, err)
	off, err := reg.Get(ctx, "t_off")
	require.NoError(t, err)

	// one stop on the opted-in desk, two on the other, so calls can be told apart
	_, err = on.AddStop(ctx, desk.NewStop{Name: "a", Coords: model.Coordinate{Lng: 1}})
	require.NoError(t, err)
	for _, n := range []string{"b", "c"} {
		_, err = off.AddStop(ctx, desk.NewStop{Name: n, Coords: model.Coordinate{Lng: 1}})
		require.NoError(t, err)
	}
	require.NoError(t, on.SetAutoRefresh(ctx, true))
	require.NoError(t, on.Settle(ctx))
	require.NoError(t, off.Settle(ctx))
	before1, before2 := est.count(1), est.count(2)

	job := NewRefreshJob(reg, zerolog.Nop())
	require.NoError(t, job.Run())
	require.NoError(t, on.Settle(ctx))
	require.NoError(t, off.Settle(ctx))

	assert.Equal(t, before1+1, est.count(1))
	assert.Equal(t, before2, est.count(2))
}

func TestSchedulerRegistersJob(t *testing.T) {
	s := New(zerolog.Nop())
	reg := desk.NewRegistry(desk.Options{Logger: zerolog.Nop()})
	defer reg.Close()

	require.NoError(t, s.AddJob("*/15 * * * *", NewRefreshJob(reg, zerolog.Nop())))
	assert.Error(t, s.AddJob("not a schedule", NewRefreshJob(reg, zerolog.Nop())))
	assert.Equal(t, 1, s.Entries())

	s.Start()
	done := make(chan struct{})
	go func() { s.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
