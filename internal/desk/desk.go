// Package desk owns the dispatch state of each tenant. Every mutation and
// every recompute result goes through one task loop per desk, so the engine
// always reads a consistent stop set and only the newest result is applied.
package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"routedesk/internal/engine"
	"routedesk/internal/geocode"
	"routedesk/internal/metrics"
	"routedesk/internal/model"
	"routedesk/internal/route"
	"routedesk/internal/store"
)

var (
	ErrClosed          = errors.New("desk closed")
	ErrInvalid         = errors.New("invalid input")
	ErrUnknownStop     = errors.New("unknown stop")
	ErrUnknownCustomer = errors.New("unknown customer")
	ErrUnknownRoute    = errors.New("unknown route")
	ErrBadOrder        = errors.New("order must list every current stop exactly once")
)

const EventRouteUpdated = "route.updated"

// Notifier receives applied route updates.
type Notifier interface {
	Notify(tenantID, eventType string, view View)
}

type NotifierFunc func(tenantID, eventType string, view View)

func (f NotifierFunc) Notify(tenantID, eventType string, view View) { f(tenantID, eventType, view) }

// View is a read-only copy of a desk's state with its derived metrics.
type View struct {
	TenantID    string             `json:"tenantId"`
	Stops       model.Sequence     `json:"stops"`
	Summary     string             `json:"summary"`
	Depot       model.Coordinate   `json:"depot"`
	Preferences model.Preferences  `json:"preferences"`
	Metrics     model.RouteMetrics `json:"metrics"`
	Customers   []model.Customer   `json:"customers"`
	Routes      []model.SavedRoute `json:"routes"`
	InProgress  bool               `json:"inProgress"`
	Generation  uint64             `json:"generation"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// NewStop is the caller supplied part of a stop.
type NewStop struct {
	Name     string
	Address  string
	Priority string
	Coords   model.Coordinate
}

type Desk struct {
	tenant   string
	eng      *engine.Engine
	resolver geocode.Resolver
	store    store.Store
	notify   Notifier
	log      zerolog.Logger

	tasks     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	bg        sync.WaitGroup

	pmu     sync.Mutex
	pending int
	idle    chan struct{}

	// owned by the task loop
	state  model.Snapshot
	manual bool // current order came from Reorder
}

func newDesk(tenant string, snap model.Snapshot, eng *engine.Engine, resolver geocode.Resolver, st store.Store, n Notifier, log zerolog.Logger) *Desk {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	d := &Desk{
		tenant:   tenant,
		eng:      eng,
		resolver: resolver,
		store:    st,
		notify:   n,
		log:      log.With().Str("component", "desk").Str("tenant", tenant).Logger(),
		tasks:    make(chan func()),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		idle:     idle,
		state:    snap,
	}
	go d.run()
	return d
}

func (d *Desk) TenantID() string { return d.tenant }

func (d *Desk) run() {
	defer close(d.stopped)
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.done:
			return
		}
	}
}

// do runs fn on the task loop and waits for its result.
func (d *Desk) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case d.tasks <- func() { errc <- fn() }:
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the task loop and waits for background recomputes to return.
func (d *Desk) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.cancel()
	})
	<-d.stopped
	d.bg.Wait()
}

// Settle blocks until every triggered recompute has been applied or discarded.
func (d *Desk) Settle(ctx context.Context) error {
	d.pmu.Lock()
	ch := d.idle
	d.pmu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Desk) begin() {
	d.pmu.Lock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	d.pmu.Unlock()
}

func (d *Desk) end() {
	d.pmu.Lock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
	d.pmu.Unlock()
}

// recompute starts a background round from the current state. When reseq
// is false the current order is kept and only the estimates are refreshed.
// Must run on the task loop: the generation token is taken here, in the same
// order as the mutations that captured the inputs.
func (d *Desk) recompute(reseq bool) {
	in := engine.Input{
		Stops:      model.Sequence(d.state.Stops).Clone(),
		Depot:      d.state.Depot,
		StartTime:  d.state.Preferences.StartTime,
		Generation: d.eng.Begin(),
	}

	d.begin()
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()

		var (
			res engine.Result
			err error
		)
		if reseq {
			res, err = d.eng.Recompute(d.ctx, in)
		} else {
			res, err = d.eng.Reorder(d.ctx, in)
		}
		if err != nil {
			if !errors.Is(err, engine.ErrStale) {
				d.log.Error().Err(err).Msg("recompute failed")
			}
			d.end()
			return
		}

		apply := func() {
			defer d.end()
			d.apply(res)
		}
		select {
		case d.tasks <- apply:
		case <-d.done:
			d.end()
		}
	}()
}

// resequence drops any manual order and recomputes from scratch.
func (d *Desk) resequence() {
	d.manual = false
	d.recompute(true)
}

// apply installs res unless a newer round was issued after it. Runs on the task loop.
func (d *Desk) apply(res engine.Result) {
	if res.Generation != d.eng.Generation() {
		d.log.Debug().Uint64("generation", res.Generation).Msg("result superseded before apply")
		return
	}
	d.state.Stops = res.Sequence.Clone()
	d.state.Summary = res.Summary
	d.persist()
	metrics.RouteStops.WithLabelValues(d.tenant).Set(float64(len(d.state.Stops)))

	if d.notify != nil {
		d.notify.Notify(d.tenant, EventRouteUpdated, d.view())
	}
}

func (d *Desk) persist() {
	d.state.UpdatedAt = time.Now().UTC()
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.SaveSnapshot(ctx, d.tenant, d.state); err != nil {
		d.log.Warn().Err(err).Msg("persist snapshot")
	}
}

func (d *Desk) view() View {
	stops := model.Sequence(d.state.Stops).Clone()
	if stops == nil {
		stops = model.Sequence{}
	}
	return View{
		TenantID:    d.tenant,
		Stops:       stops,
		Summary:     d.state.Summary,
		Depot:       d.state.Depot,
		Preferences: d.state.Preferences,
		Metrics:     route.Measure(d.state.Depot, stops, d.state.Preferences.StartTime),
		Customers:   append([]model.Customer{}, d.state.Customers...),
		Routes:      append([]model.SavedRoute{}, d.state.Routes...),
		InProgress:  d.eng.InProgress(),
		Generation:  d.eng.Generation(),
		UpdatedAt:   d.state.UpdatedAt,
	}
}

func (d *Desk) View(ctx context.Context) (View, error) {
	var v View
	err := d.do(ctx, func() error {
		v = d.view()
		return nil
	})
	return v, err
}

func buildStop(in NewStop) (model.Stop, error) {
	p, err := model.ParsePriority(in.Priority)
	if err != nil {
		return model.Stop{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := in.Coords.Validate(); err != nil {
		return model.Stop{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = strings.TrimSpace(in.Address)
	}
	if name == "" {
		return model.Stop{}, fmt.Errorf("%w: stop needs a name or address", ErrInvalid)
	}
	return model.Stop{
		ID:       uuid.NewString(),
		Name:     name,
		Address:  strings.TrimSpace(in.Address),
		Priority: p,
		Coords:   in.Coords,
	}, nil
}

// AddStop appends a new stop and re-sequences the route.
func (d *Desk) AddStop(ctx context.Context, in NewStop) (model.Stop, error) {
	s, err := buildStop(in)
	if err != nil {
		return model.Stop{}, err
	}
	return s, d.addStop(ctx, s)
}

func (d *Desk) addStop(ctx context.Context, s model.Stop) error {
	return d.do(ctx, func() error {
		d.state.Stops = append(d.state.Stops, s)
		d.persist()
		d.resequence()
		return nil
	})
}

// AddStopFromQuery resolves free text through the geocoder, then adds the stop.
func (d *Desk) AddStopFromQuery(ctx context.Context, query, priority string) (model.Stop, error) {
	if d.resolver == nil {
		return model.Stop{}, fmt.Errorf("%w: no geocoder configured", geocode.ErrResolution)
	}
	p, err := model.ParsePriority(priority)
	if err != nil {
		return model.Stop{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s, err := d.resolver.Resolve(ctx, query)
	if err != nil {
		return model.Stop{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Priority = p
	s.EstimatedTime, s.Traffic = "", ""
	if err := s.Coords.Validate(); err != nil {
		return model.Stop{}, fmt.Errorf("%w: %v", geocode.ErrResolution, err)
	}
	return s, d.addStop(ctx, s)
}

// AddStopFromCustomer copies a saved customer onto the route.
func (d *Desk) AddStopFromCustomer(ctx context.Context, customerID, priority string) (model.Stop, error) {
	p, err := model.ParsePriority(priority)
	if err != nil {
		return model.Stop{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var s model.Stop
	err = d.do(ctx, func() error {
		i := d.customerIndex(customerID)
		if i < 0 {
			return ErrUnknownCustomer
		}
		c := d.state.Customers[i]
		s = model.Stop{ID: uuid.NewString(), Name: c.Name, Address: c.Address, Priority: p, Coords: c.Coords}
		d.state.Stops = append(d.state.Stops, s)
		d.persist()
		d.resequence()
		return nil
	})
	return s, err
}

func (d *Desk) RemoveStop(ctx context.Context, id string) error {
	return d.do(ctx, func() error {
		i := d.stopIndex(id)
		if i < 0 {
			return ErrUnknownStop
		}
		d.state.Stops = append(d.state.Stops[:i:i], d.state.Stops[i+1:]...)
		d.persist()
		d.resequence()
		return nil
	})
}

// Reorder applies a manual visit order. ids must be a permutation of the
// current stop ids; estimates are refreshed without re-sequencing.
func (d *Desk) Reorder(ctx context.Context, ids []string) error {
	return d.do(ctx, func() error {
		if len(ids) != len(d.state.Stops) {
			return ErrBadOrder
		}
		byID := make(map[string]model.Stop, len(d.state.Stops))
		for _, s := range d.state.Stops {
			byID[s.ID] = s
		}
		ordered := make([]model.Stop, 0, len(ids))
		for _, id := range ids {
			s, ok := byID[id]
			if !ok {
				return ErrBadOrder
			}
			delete(byID, id)
			ordered = append(ordered, s)
		}
		d.state.Stops = ordered
		d.manual = true
		d.persist()
		d.recompute(false)
		return nil
	})
}

func (d *Desk) SetDepot(ctx context.Context, c model.Coordinate) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return d.do(ctx, func() error {
		d.state.Depot = c
		d.persist()
		d.resequence()
		return nil
	})
}

// SetStartTime changes the clock reference used for estimates and duration.
func (d *Desk) SetStartTime(ctx context.Context, start string) error {
	if _, err := route.ParseClock(start); err != nil {
		return err
	}
	start = strings.TrimSpace(start)
	return d.do(ctx, func() error {
		d.state.Preferences.StartTime = start
		d.persist()
		d.recompute(!d.manual)
		return nil
	})
}

func (d *Desk) SetAutoRefresh(ctx context.Context, on bool) error {
	return d.do(ctx, func() error {
		d.state.Preferences.AutoRefresh = on
		d.persist()
		return nil
	})
}

// AutoRefresh reports whether scheduled refreshes are enabled.
func (d *Desk) AutoRefresh(ctx context.Context) (bool, error) {
	var on bool
	err := d.do(ctx, func() error {
		on = d.state.Preferences.AutoRefresh
		return nil
	})
	return on, err
}

// Refresh re-estimates the route. A manual order is kept as is.
func (d *Desk) Refresh(ctx context.Context) error {
	return d.do(ctx, func() error {
		d.recompute(!d.manual)
		return nil
	})
}

// SaveCustomer creates or replaces an address book entry.
func (d *Desk) SaveCustomer(ctx context.Context, c model.Customer) (model.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return model.Customer{}, fmt.Errorf("%w: customer name required", ErrInvalid)
	}
	if err := c.Coords.Validate(); err != nil {
		return model.Customer{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := d.do(ctx, func() error {
		if i := d.customerIndex(c.ID); i >= 0 {
			d.state.Customers[i] = c
		} else {
			d.state.Customers = append(d.state.Customers, c)
		}
		d.persist()
		return nil
	})
	return c, err
}

func (d *Desk) DeleteCustomer(ctx context.Context, id string) error {
	return d.do(ctx, func() error {
		i := d.customerIndex(id)
		if i < 0 {
			return ErrUnknownCustomer
		}
		d.state.Customers = append(d.state.Customers[:i:i], d.state.Customers[i+1:]...)
		d.persist()
		return nil
	})
}

// SaveRoute stores the current stop list under name, without annotations.
func (d *Desk) SaveRoute(ctx context.Context, name string) (model.SavedRoute, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.SavedRoute{}, fmt.Errorf("%w: route name required", ErrInvalid)
	}
	var r model.SavedRoute
	err := d.do(ctx, func() error {
		r = model.SavedRoute{
			ID:      uuid.NewString(),
			Name:    name,
			Stops:   model.Sequence(d.state.Stops).ClearAnnotations(),
			SavedAt: time.Now().UTC(),
		}
		if r.Stops == nil {
			r.Stops = []model.Stop{}
		}
		d.state.Routes = append(d.state.Routes, r)
		d.persist()
		return nil
	})
	return r, err
}

// LoadRoute replaces the current stops with a saved route and re-sequences.
func (d *Desk) LoadRoute(ctx context.Context, id string) error {
	return d.do(ctx, func() error {
		i := d.routeIndex(id)
		if i < 0 {
			return ErrUnknownRoute
		}
		d.state.Stops = model.Sequence(d.state.Routes[i].Stops).ClearAnnotations()
		d.state.Summary = ""
		d.persist()
		d.resequence()
		return nil
	})
}

func (d *Desk) DeleteRoute(ctx context.Context, id string) error {
	return d.do(ctx, func() error {
		i := d.routeIndex(id)
		if i < 0 {
			return ErrUnknownRoute
		}
		d.state.Routes = append(d.state.Routes[:i:i], d.state.Routes[i+1:]...)
		d.persist()
		return nil
	})
}

func (d *Desk) stopIndex(id string) int {
	for i, s := range d.state.Stops {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (d *Desk) customerIndex(id string) int {
	for i, c := range d.state.Customers {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (d *Desk) routeIndex(id string) int {
	for i, r := range d.state.Routes {
		if r.ID == id {
			return i
		}
	}
	return -1
}
