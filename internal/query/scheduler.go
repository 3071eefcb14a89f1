// Package query schedules nearby listing queries so that only the most recently
// issued query can update the visible result set.
package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geofeed/geofeed/internal/listing"
)

// DefaultDebounce is the quiescence window for viewport-driven queries.
const DefaultDebounce = 400 * time.Millisecond

const tracerName = "github.com/geofeed/geofeed/internal/query"

// Outcomes of a query that reached the fetcher.
const (
	OutcomeResolved  = "resolved"
	OutcomeDiscarded = "discarded"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Epoch identifies an issued query. Epochs increase monotonically for the
// lifetime of a Scheduler and are never reset.
type Epoch uint64

// Fetcher runs a single nearby query.
// Both nearbyhttp.Client and listing.Service satisfy it.
type Fetcher interface {
	Nearby(ctx context.Context, q listing.Query) ([]listing.Summary, error)
}

// Result is delivered to the result handler when the latest query settles.
type Result struct {
	Epoch    Epoch
	Params   listing.Query
	Listings []listing.Summary
	Empty    bool
	// Err is set when the query failed. Listings then hold the previous result.
	Err error
}

// Snapshot is the visible query state.
type Snapshot struct {
	Listings []listing.Summary
	Err      error
	// Loading is true while the latest issued query (debounced or not) is unresolved.
	Loading bool
	// Epoch is the latest issued epoch; ResolvedEpoch the one Listings came from.
	Epoch         Epoch
	ResolvedEpoch Epoch
	// Params of the latest issued query.
	Params listing.Query
}

// Recorder receives query lifecycle events. telemetry.FeedMetrics implements it.
type Recorder interface {
	QueryIssued(debounced bool)
	QueryResolved(d time.Duration, count int)
	QueryDiscarded()
	QueryCancelled()
	QueryFailed()
}

// Config holds configuration for the Scheduler.
type Config struct {
	// Fetcher executes queries (required).
	Fetcher Fetcher

	// Debounce is the quiescence window for QueryDebounced (default: 400ms).
	Debounce time.Duration

	// OnResult is called, outside the scheduler lock, when the latest query settles
	// with listings or a failure. Cancelled and superseded queries are never reported.
	OnResult func(Result)

	// Metrics records query lifecycle events (optional).
	Metrics Recorder

	// Tracer starts one "nearby.query" span per fetch (default: the global tracer).
	Tracer trace.Tracer

	// Logger for scheduler operations.
	Logger zerolog.Logger
}

// Scheduler issues nearby queries, debounces viewport moves and cancels
// superseded queries. It is safe for concurrent use.
type Scheduler struct {
	fetcher  Fetcher
	debounce time.Duration
	onResult func(Result)
	metrics  Recorder
	tracer   trace.Tracer
	logger   zerolog.Logger

	mu       sync.Mutex
	epoch    Epoch
	cancel   context.CancelFunc
	timer    *time.Timer
	params   listing.Query
	issued   bool
	loading  bool
	listings []listing.Summary
	err      error
	resolved Epoch
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	onResult := cfg.OnResult
	if onResult == nil {
		onResult = func(Result) {}
	}

	return &Scheduler{
		fetcher:  cfg.Fetcher,
		debounce: debounce,
		onResult: onResult,
		metrics:  metrics,
		tracer:   tracer,
		logger:   cfg.Logger,
	}
}

// Query issues q immediately, superseding any in-flight or pending query.
func (s *Scheduler) Query(q listing.Query) Epoch {
	s.mu.Lock()
	epoch := s.supersede(q)
	ctx := s.start()
	s.mu.Unlock()

	s.metrics.QueryIssued(false)
	s.logger.Debug().
		Uint64("epoch", uint64(epoch)).
		Str("center", q.Center.String()).
		Float64("radius_km", q.RadiusKm).
		Msg("query issued")

	go s.run(ctx, epoch, q, false)
	return epoch
}

// QueryDebounced issues q once no further call has arrived for the debounce
// window. The epoch is allocated, and the previous query cancelled, immediately.
func (s *Scheduler) QueryDebounced(q listing.Query) Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.supersede(q)
	s.timer = time.AfterFunc(s.debounce, func() {
		s.fire(epoch, q)
	})

	s.logger.Debug().
		Uint64("epoch", uint64(epoch)).
		Dur("debounce", s.debounce).
		Msg("query debounced")
	return epoch
}

// Retry re-issues the latest query. It reports false if nothing was ever issued.
func (s *Scheduler) Retry() (Epoch, bool) {
	s.mu.Lock()
	q, ok := s.params, s.issued
	s.mu.Unlock()

	if !ok {
		return 0, false
	}
	return s.Query(q), true
}

// Cancel abandons the in-flight or pending query without issuing a new one.
// The visible listings are kept.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.stopLocked()
	s.loading = false
}

// IsLatest reports whether epoch is the most recently issued one.
func (s *Scheduler) IsLatest(epoch Epoch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch == s.epoch
}

// Snapshot returns the visible query state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Listings:      s.listings,
		Err:           s.err,
		Loading:       s.loading,
		Epoch:         s.epoch,
		ResolvedEpoch: s.resolved,
		Params:        s.params,
	}
}

// supersede allocates a new epoch for q and cancels whatever came before.
// Must be called with s.mu held.
func (s *Scheduler) supersede(q listing.Query) Epoch {
	s.stopLocked()
	s.epoch++
	s.params = q
	s.issued = true
	s.loading = true
	return s.epoch
}

// start creates the cancellation context for the current epoch.
// Must be called with s.mu held.
func (s *Scheduler) start() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return ctx
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) fire(epoch Epoch, q listing.Query) {
	s.mu.Lock()
	if epoch != s.epoch {
		// A later call stopped us too late.
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx := s.start()
	s.mu.Unlock()

	s.metrics.QueryIssued(true)
	s.logger.Debug().
		Uint64("epoch", uint64(epoch)).
		Str("center", q.Center.String()).
		Float64("radius_km", q.RadiusKm).
		Msg("debounced query issued")

	s.run(ctx, epoch, q, true)
}

func (s *Scheduler) run(ctx context.Context, epoch Epoch, q listing.Query, debounced bool) {
	ctx, span := s.tracer.Start(ctx, "nearby.query", trace.WithAttributes(
		attribute.Int64("query.epoch", int64(epoch)), //nolint:gosec // epochs stay far below MaxInt64
		attribute.Bool("query.debounced", debounced),
		attribute.Float64("query.lat", q.Center.Lat),
		attribute.Float64("query.lng", q.Center.Lng),
		attribute.Float64("query.radius_km", q.RadiusKm),
		attribute.String("query.text", q.Text),
		attribute.String("query.category_id", q.CategoryID),
	))
	defer span.End()

	start := time.Now()
	items, err := s.fetcher.Nearby(ctx, q)
	outcome := s.resolve(epoch, q, items, err, time.Since(start))

	span.SetAttributes(
		attribute.String("query.outcome", outcome),
		attribute.Int("query.result_count", len(items)),
	)
	if outcome == OutcomeFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// resolve applies the fetch result if epoch is still the latest and reports
// what happened to it.
func (s *Scheduler) resolve(epoch Epoch, q listing.Query, items []listing.Summary, err error, took time.Duration) string {
	s.mu.Lock()

	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug().
			Uint64("epoch", uint64(epoch)).
			Msg("discarding superseded query result")
		if errors.Is(err, context.Canceled) {
			s.metrics.QueryCancelled()
			return OutcomeCancelled
		}
		s.metrics.QueryDiscarded()
		return OutcomeDiscarded
	}

	s.cancel = nil
	s.loading = false

	if errors.Is(err, context.Canceled) {
		s.mu.Unlock()
		s.metrics.QueryCancelled()
		return OutcomeCancelled
	}

	if err != nil {
		s.err = err
		listings := s.listings
		s.mu.Unlock()

		s.metrics.QueryFailed()
		s.logger.Warn().
			Err(err).
			Uint64("epoch", uint64(epoch)).
			Dur("duration", took).
			Msg("nearby query failed")

		s.onResult(Result{Epoch: epoch, Params: q, Listings: listings, Err: err})
		return OutcomeFailed
	}

	if items == nil {
		items = []listing.Summary{}
	}
	s.listings = items
	s.err = nil
	s.resolved = epoch
	s.mu.Unlock()

	s.metrics.QueryResolved(took, len(items))
	s.logger.Debug().
		Uint64("epoch", uint64(epoch)).
		Int("count", len(items)).
		Dur("duration", took).
		Msg("nearby query resolved")

	s.onResult(Result{Epoch: epoch, Params: q, Listings: items, Empty: len(items) == 0})
	return OutcomeResolved
}

type noopRecorder struct{}

func (noopRecorder) QueryIssued(bool)                 {}
func (noopRecorder) QueryResolved(time.Duration, int) {}
func (noopRecorder) QueryDiscarded()                  {}
func (noopRecorder) QueryCancelled()                  {}
func (noopRecorder) QueryFailed()                     {}
