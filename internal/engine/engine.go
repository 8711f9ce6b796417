// Package engine recomputes a route: it sequences the stops, asks the
// estimator for annotations and merges them, tagging every round with a
// generation token so a late result can never replace a newer one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"routedesk/internal/estimator"
	"routedesk/internal/metrics"
	"routedesk/internal/model"
	"routedesk/internal/opt"
	"routedesk/internal/route"
)

// ErrStale is returned with a result that was superseded by a newer round
// before it finished. The result is still well formed but was not committed.
var ErrStale = errors.New("recompute superseded by a newer generation")

type Input struct {
	Stops     []model.Stop
	Depot     model.Coordinate
	StartTime string
	// Generation is a token from Begin. Zero takes a fresh one when the
	// round starts.
	Generation uint64
}

type Result struct {
	Generation uint64             `json:"generation"`
	Sequence   model.Sequence     `json:"sequence"`
	Summary    string             `json:"summary"`
	Annotated  bool               `json:"annotated"`
	Metrics    model.RouteMetrics `json:"metrics"`
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "engine").Logger() }
}

// WithEstimateTimeout bounds each estimator call. Zero leaves the caller's
// context as the only bound.
func WithEstimateTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithCommitHook runs fn after every committed result, outside the engine lock.
func WithCommitHook(fn func(Result)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

type Engine struct {
	est      estimator.Estimator
	log      zerolog.Logger
	timeout  time.Duration
	onCommit func(Result)

	gen      atomic.Uint64
	inflight atomic.Int64

	mu        sync.Mutex
	latest    Result
	committed bool
}

func New(est estimator.Estimator, opts ...Option) *Engine {
	e := &Engine{est: est, log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Begin reserves the next generation token. Callers that capture inputs on
// a serialized loop take the token there, so token order matches the order
// in which the inputs were read.
func (e *Engine) Begin() uint64 { return e.gen.Add(1) }

func (e *Engine) token(in Input) uint64 {
	if in.Generation != 0 {
		return in.Generation
	}
	return e.Begin()
}

// Recompute sequences in.Stops from the depot and annotates the result.
// Estimator failures fall back to the plain sequence with no summary. A
// result superseded while it was being computed is returned with ErrStale.
func (e *Engine) Recompute(ctx context.Context, in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}
	g := e.token(in)
	e.log.Debug().Uint64("generation", g).Int("stops", len(in.Stops)).Msg("sequencing")
	seq := opt.Sequence(in.Depot, in.Stops)
	return e.finish(ctx, g, seq, in.Depot, in.StartTime)
}

// Reorder keeps the order of in.Stops and only re-estimates it.
func (e *Engine) Reorder(ctx context.Context, in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}
	g := e.token(in)
	e.log.Debug().Uint64("generation", g).Int("stops", len(in.Stops)).Msg("manual order")
	return e.finish(ctx, g, model.Sequence(in.Stops).Clone(), in.Depot, in.StartTime)
}

func (e *Engine) finish(ctx context.Context, g uint64, seq model.Sequence, depot model.Coordinate, startTime string) (Result, error) {
	res := Result{Generation: g}

	ann, err := e.estimate(ctx, g, seq, depot, startTime)
	if err != nil {
		e.log.Warn().Err(err).Uint64("generation", g).Msg("estimator unavailable, using plain sequence")
		res.Sequence = seq.ClearAnnotations()
		metrics.Recomputes.WithLabelValues("fallback").Inc()
	} else {
		e.log.Debug().Uint64("generation", g).Int("etas", len(ann.ETAs)).Msg("merging")
		res.Sequence = route.Merge(seq.ClearAnnotations(), ann.ETAs)
		res.Summary = ann.Summary
		res.Annotated = true
		metrics.Recomputes.WithLabelValues("annotated").Inc()
	}
	if res.Sequence == nil {
		res.Sequence = model.Sequence{}
	}
	res.Metrics = route.Measure(depot, res.Sequence, startTime)

	if !e.commit(res) {
		e.log.Debug().Uint64("generation", g).Uint64("newest", e.gen.Load()).Msg("discarding stale result")
		metrics.Recomputes.WithLabelValues("stale").Inc()
		return res, ErrStale
	}
	e.log.Debug().Uint64("generation", g).Bool("annotated", res.Annotated).Msg("done")
	if e.onCommit != nil {
		e.onCommit(res)
	}
	return res, nil
}

func (e *Engine) estimate(ctx context.Context, g uint64, seq model.Sequence, depot model.Coordinate, startTime string) (estimator.Result, error) {
	e.inflight.Add(1)
	metrics.RecomputesInFlight.Inc()
	defer func() {
		e.inflight.Add(-1)
		metrics.RecomputesInFlight.Dec()
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.log.Debug().Uint64("generation", g).Msg("estimating")
	start := time.Now()
	res, err := e.callEstimator(ctx, estimator.NewRequest(seq, startTime).WithDepot(depot))
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EstimatorLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return res, err
}

// callEstimator converts a panicking estimator into an error.
func (e *Engine) callEstimator(ctx context.Context, req estimator.Request) (res estimator.Result, err error) {
	if e.est == nil {
		return estimator.Result{}, errors.New("no estimator configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimator panic: %v", r)
		}
	}()
	return e.est.Estimate(ctx, req)
}

func (e *Engine) commit(res Result) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if res.Generation != e.gen.Load() {
		return false
	}
	e.latest = res
	e.committed = true
	return true
}

// InProgress reports whether any round is waiting on the estimator.
func (e *Engine) InProgress() bool { return e.inflight.Load() > 0 }

// Latest returns the last committed result.
func (e *Engine) Latest() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest, e.committed
}

// Generation is the newest token handed out.
func (e *Engine) Generation() uint64 { return e.gen.Load() }

func validate(in Input) error {
	if err := in.Depot.Validate(); err != nil {
		return fmt.Errorf("depot: %w", err)
	}
	seen := make(map[string]struct{}, len(in.Stops))
	for _, s := range in.Stops {
		if err := s.Coords.Validate(); err != nil {
			return fmt.Errorf("stop %s: %w", s.ID, err)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate stop id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
