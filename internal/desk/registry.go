package desk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"routedesk/internal/engine"
	"routedesk/internal/estimator"
	"routedesk/internal/geocode"
	"routedesk/internal/model"
	"routedesk/internal/store"
)

type Options struct {
	Estimator       estimator.Estimator
	Resolver        geocode.Resolver
	Store           store.Store
	Notifier        Notifier
	Logger          zerolog.Logger
	DefaultDepot    model.Coordinate
	DefaultStart    string
	EstimateTimeout time.Duration
}

// Registry lazily opens one desk per tenant.
type Registry struct {
	opts Options

	mu     sync.Mutex
	desks  map[string]*Desk
	closed bool
}

func NewRegistry(o Options) *Registry {
	if o.DefaultStart == "" {
		o.DefaultStart = "09:00 AM"
	}
	return &Registry{opts: o, desks: map[string]*Desk{}}
}

// Get returns the tenant's desk, loading its last snapshot on first use.
func (r *Registry) Get(ctx context.Context, tenantID string) (*Desk, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id required", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if d, ok := r.desks[tenantID]; ok {
		return d, nil
	}

	snap, err := r.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	eng := engine.New(r.opts.Estimator,
		engine.WithLogger(r.opts.Logger.With().Str("tenant", tenantID).Logger()),
		engine.WithEstimateTimeout(r.opts.EstimateTimeout),
	)
	d := newDesk(tenantID, snap, eng, r.opts.Resolver, r.opts.Store, r.opts.Notifier, r.opts.Logger)
	r.desks[tenantID] = d
	r.opts.Logger.Info().Str("tenant", tenantID).Int("stops", len(snap.Stops)).Msg("desk opened")
	return d, nil
}

func (r *Registry) load(ctx context.Context, tenantID string) (model.Snapshot, error) {
	fresh := model.Snapshot{
		Depot:       r.opts.DefaultDepot,
		Preferences: model.Preferences{StartTime: r.opts.DefaultStart},
	}
	if r.opts.Store == nil {
		return fresh, nil
	}
	snap, err := r.opts.Store.LoadSnapshot(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return fresh, nil
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load snapshot for %s: %w", tenantID, err)
	}
	if snap.Preferences.StartTime == "" {
		snap.Preferences.StartTime = r.opts.DefaultStart
	}
	return snap, nil
}

// Tenants lists the open desks in a stable order.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.desks))
	for t := range r.desks {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Each calls fn for every open desk.
func (r *Registry) Each(fn func(*Desk)) {
	r.mu.Lock()
	desks := make([]*Desk, 0, len(r.desks))
	for _, d := range r.desks {
		desks = append(desks, d)
	}
	r.mu.Unlock()
	for _, d := range desks {
		fn(d)
	}
}

// Close shuts every desk down. Further Get calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	desks := r.desks
	r.desks = map[string]*Desk{}
	r.mu.Unlock()
	for _, d := range desks {
		d.Close()
	}
}
