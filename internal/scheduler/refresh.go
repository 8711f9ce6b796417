package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"routedesk/internal/desk"
)

// RefreshJob re-estimates every open desk that opted into auto refresh, since
// traffic estimates go stale over the day.
type RefreshJob struct {
	Desks   *desk.Registry
	Timeout time.Duration
	log     zerolog.Logger
}

func NewRefreshJob(reg *desk.Registry, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{Desks: reg, Timeout: 10 * time.Second, log: log.With().Str("job", "refresh_estimates").Logger()}
}

func (j *RefreshJob) Name() string { return "refresh_estimates" }

func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()

	var errs []error
	refreshed := 0
	j.Desks.Each(func(d *desk.Desk) {
		on, err := d.AutoRefresh(ctx)
		if errors.Is(err, desk.ErrClosed) {
			return
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.TenantID(), err))
			return
		}
		if !on {
			return
		}
		if err := d.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.TenantID(), err))
			return
		}
		refreshed++
	})
	j.log.Debug().Int("refreshed", refreshed).Msg("auto refresh pass")
	return errors.Join(errs...)
}
