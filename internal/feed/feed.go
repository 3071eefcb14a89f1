// Package feed wires location, geo state, query scheduling, radius escalation,
// the list panel and selection into the nearby discovery feed.
//
// All event handlers on Feed are serialised: each runs to completion before the
// next starts. Network calls and the debounce timer run in the background and
// re-enter through the same serialised path.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/geofeed/geofeed/internal/escalation"
	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/location"
	"github.com/geofeed/geofeed/internal/panel"
	"github.com/geofeed/geofeed/internal/query"
	"github.com/geofeed/geofeed/internal/selection"
	"github.com/geofeed/geofeed/internal/store"
)

// Feed errors.
var (
	ErrMaxRadius      = errors.New("already at the largest radius")
	ErrNothingToRetry = errors.New("nothing to retry")
)

// Recorder receives feed events. telemetry.FeedMetrics implements it.
type Recorder interface {
	query.Recorder
	RadiusEscalated(fromKm, toKm float64)
	RadiusExhausted(radiusKm float64)
}

// Config holds configuration for the Feed.
type Config struct {
	// Fetcher runs nearby queries (required).
	Fetcher query.Fetcher

	// Source is the device position source (required).
	Source location.PositionSource

	// Store is the shared geo state. If nil, one is created from the fields below.
	Store *store.Store

	// Presets offered to the user and used for escalation (default: geo.DefaultPresets).
	Presets geo.Presets

	// DefaultRadiusKm is the radius of the first query (default: 5 km).
	DefaultRadiusKm float64

	// SmartRadius is the initial smart radius mode.
	SmartRadius bool

	// DefaultLocation is the fallback offered after a failed acquisition.
	DefaultLocation geo.Coordinates

	// Debounce is the quiescence window for map moves (default: 400ms).
	Debounce time.Duration

	// LocationTimeout bounds a location request (default: 10s).
	LocationTimeout time.Duration

	// Notifier receives transient messages (optional).
	Notifier Notifier

	// Map is asked to focus listings selected from the list (optional).
	Map selection.MapFocuser

	// Metrics records feed events (optional).
	Metrics Recorder

	// Tracer carries nearby query spans (optional).
	Tracer trace.Tracer

	// Logger for feed operations.
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with the stock radius presets, smart radius on
// and the default fallback location. Fetcher and Source must still be set.
func DefaultConfig() Config {
	return Config{
		Presets:         geo.DefaultPresets(),
		DefaultRadiusKm: geo.DefaultRadiusKm,
		SmartRadius:     true,
		DefaultLocation: geo.DefaultLocation,
		Debounce:        query.DefaultDebounce,
		LocationTimeout: location.DefaultTimeout,
		Logger:          zerolog.Nop(),
	}
}

// Feed is the nearby discovery feed.
type Feed struct {
	store     *store.Store
	locator   *location.Locator
	scheduler *query.Scheduler
	panel     *panel.Controller
	selection *selection.Sync

	presets         geo.Presets
	defaultLocation geo.Coordinates
	notifier        Notifier
	metrics         Recorder
	logger          zerolog.Logger

	// mu serialises event handlers. Lock order: mu, then any component lock.
	mu       sync.Mutex
	text     string
	category string
	empty    EmptyState
}

// New creates a Feed and its components.
func New(cfg Config) (*Feed, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("feed: fetcher is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("feed: position source is required")
	}

	presets := cfg.Presets
	if presets == nil {
		presets = geo.DefaultPresets()
	}
	presets, err := geo.NewPresets(presets)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	defaultLocation := cfg.DefaultLocation
	if defaultLocation == (geo.Coordinates{}) {
		defaultLocation = geo.DefaultLocation
	}
	if err := defaultLocation.Validate(); err != nil {
		return nil, fmt.Errorf("feed: default location: %w", err)
	}

	st := cfg.Store
	if st == nil {
		st = store.New(store.Config{
			DefaultRadiusKm: cfg.DefaultRadiusKm,
			SmartRadius:     cfg.SmartRadius,
			Logger:          cfg.Logger,
		})
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(Message) {})
	}

	f := &Feed{
		store:           st,
		presets:         presets,
		defaultLocation: defaultLocation,
		notifier:        notifier,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}

	var queryMetrics query.Recorder
	if cfg.Metrics != nil {
		queryMetrics = cfg.Metrics
	}

	f.locator = location.NewLocator(location.LocatorConfig{
		Source:  cfg.Source,
		Store:   st,
		Timeout: cfg.LocationTimeout,
		Logger:  cfg.Logger,
	})
	f.scheduler = query.New(query.Config{
		Fetcher:  cfg.Fetcher,
		Debounce: cfg.Debounce,
		OnResult: f.handleResult,
		Metrics:  queryMetrics,
		Tracer:   cfg.Tracer,
		Logger:   cfg.Logger,
	})
	f.panel = panel.New(panel.Config{
		Initial: panel.Height(st.Snapshot().SheetHeight),
		Sink:    st,
		Logger:  cfg.Logger,
	})
	f.selection = selection.New(selection.Config{
		Panel:  f.panel,
		Map:    cfg.Map,
		Logger: cfg.Logger,
	})

	return f, nil
}

// Store returns the geo state backing the feed.
func (f *Feed) Store() *store.Store {
	return f.store
}

// Presets returns the radius presets offered to the user.
func (f *Feed) Presets() geo.Presets {
	return append(geo.Presets(nil), f.presets...)
}

// Mount prepares the feed for display. Without coordinates it requests the
// device location and queries once it arrives; with coordinates it queries now.
// Acquisition failures are returned and recorded in the store; no query is issued.
func (f *Feed) Mount(ctx context.Context) error {
	f.mu.Lock()
	has := f.store.Snapshot().HasCoordinates()
	if has {
		f.issueLocked(false)
	}
	f.mu.Unlock()

	if has {
		return nil
	}
	return f.Relocate(ctx)
}

// Relocate requests the device location again and queries around the result.
func (f *Feed) Relocate(ctx context.Context) error {
	if _, err := f.locator.Request(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		f.logger.Warn().Err(err).Msg("location unavailable, feed blocked")

		f.mu.Lock()
		if f.store.Snapshot().Status == store.StatusError {
			f.scheduler.Cancel()
		}
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.empty = EmptyNone
	f.issueLocked(false)
	return nil
}

// UseDefaultLocation commits the fallback location and queries around it.
func (f *Feed) UseDefaultLocation() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.UseLocation(f.defaultLocation, ""); err != nil {
		return err
	}
	f.logger.Info().
		Float64("lat", f.defaultLocation.Lat).
		Float64("lng", f.defaultLocation.Lng).
		Msg("using default location")

	f.empty = EmptyNone
	f.issueLocked(false)
	return nil
}

// SelectRadius applies a radius picked by the user. Smart radius is turned off
// and the query is issued immediately.
func (f *Feed) SelectRadius(km float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.SetRadius(km, store.SetRadiusOptions{Manual: true}); err != nil {
		return err
	}
	f.empty = EmptyNone
	f.issueLocked(false)
	return nil
}

// IncreaseRadius moves to the next larger preset, typically from the
// "no results nearby" state. It counts as a manual pick.
func (f *Feed) IncreaseRadius() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next, ok := f.presets.Next(f.store.Snapshot().RadiusKm)
	if !ok {
		return ErrMaxRadius
	}
	if err := f.store.SetRadius(next, store.SetRadiusOptions{Manual: true}); err != nil {
		return err
	}
	f.empty = EmptyNone
	f.issueLocked(false)
	return nil
}

// ToggleSmartRadius flips smart radius mode and returns the new mode.
// The radius and the visible results are left as they are.
func (f *Feed) ToggleSmartRadius() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	enabled := f.store.ToggleSmartRadius()
	f.logger.Debug().Bool("smart_radius", enabled).Msg("smart radius toggled")
	return enabled
}

// SetSearchText changes the free-text filter and queries immediately.
func (f *Feed) SetSearchText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.text = text
	f.empty = EmptyNone
	f.issueLocked(false)
}

// SetCategory changes the category filter ("" for all) and queries immediately.
func (f *Feed) SetCategory(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.category = id
	f.empty = EmptyNone
	f.issueLocked(false)
}

// Retry recovers from the current error: a failed acquisition is retried by
// relocating, a failed query is re-issued.
func (f *Feed) Retry(ctx context.Context) error {
	if f.store.Snapshot().Status == store.StatusError {
		return f.Relocate(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.scheduler.Snapshot().Err == nil {
		return ErrNothingToRetry
	}
	if _, ok := f.scheduler.Retry(); !ok {
		return ErrNothingToRetry
	}
	return nil
}

// OnMapMove records a new viewport center and schedules a debounced query.
func (f *Feed) OnMapMove(lat, lng float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.SetCoordinates(geo.Coordinates{Lat: lat, Lng: lng}); err != nil {
		f.logger.Warn().Err(err).Msg("ignoring map move")
		return
	}
	f.issueLocked(true)
}

// OnMarkerClick selects a listing from its map marker.
func (f *Feed) OnMarkerClick(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection.SelectMarker(id)
}

// SelectRow selects a listing from the list and focuses it on the map.
func (f *Feed) SelectRow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection.SelectRow(id)
}

// ClearSelection deselects the current listing.
func (f *Feed) ClearSelection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection.Clear()
}

// SetMap replaces the map that receives focus requests.
func (f *Feed) SetMap(m selection.MapFocuser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection.SetMap(m)
}

// BeginDrag starts a panel gesture at screen y.
func (f *Feed) BeginDrag(y float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panel.BeginDrag(y)
}

// EndDrag finishes a panel gesture at screen y.
func (f *Feed) EndDrag(y float64) panel.Height {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panel.EndDrag(y)
}

// CancelDrag abandons a panel gesture.
func (f *Feed) CancelDrag() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panel.CancelDrag()
}

// ToggleExpand switches the panel between full and collapsed.
func (f *Feed) ToggleExpand() panel.Height {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panel.ToggleExpand()
}

// Reset abandons pending work and returns every component to its initial
// state, e.g. on logout.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scheduler.Cancel()
	f.selection.Clear()
	f.store.Reset()
	f.panel.Reset()
	f.text = ""
	f.category = ""
	f.empty = EmptyNone
}

// Close cancels any in-flight or pending query.
func (f *Feed) Close() {
	f.scheduler.Cancel()
}

// issueLocked queries around the current state. It does nothing without
// coordinates or while the last acquisition is in error.
// Must be called with f.mu held.
func (f *Feed) issueLocked(debounced bool) bool {
	snap := f.store.Snapshot()
	if !snap.HasCoordinates() {
		f.logger.Debug().Msg("no coordinates, query skipped")
		return false
	}
	if snap.Status == store.StatusError {
		f.logger.Debug().Err(snap.LocateError).Msg("location error unresolved, query skipped")
		return false
	}

	q := listing.Query{
		Center:     *snap.Coordinates,
		RadiusKm:   snap.RadiusKm,
		Text:       f.text,
		CategoryID: f.category,
	}
	if debounced {
		f.scheduler.QueryDebounced(q)
	} else {
		f.scheduler.Query(q)
	}
	return true
}

// handleResult is the scheduler's result handler.
func (f *Feed) handleResult(res query.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Another query may have been issued between resolution and now.
	if !f.scheduler.IsLatest(res.Epoch) {
		return
	}
	if res.Err != nil {
		return
	}

	snap := f.store.Snapshot()
	d := escalation.Decide(escalation.Input{
		SmartRadius: snap.SmartRadius,
		RadiusKm:    res.Params.RadiusKm,
		ResultCount: len(res.Listings),
		Presets:     f.presets,
	})

	switch d.Action {
	case escalation.ActionEscalate:
		if err := f.store.SetRadius(d.RadiusKm, store.SetRadiusOptions{}); err != nil {
			f.logger.Error().Err(err).Msg("radius escalation rejected")
			return
		}
		f.empty = EmptyEscalating
		if f.metrics != nil {
			f.metrics.RadiusEscalated(res.Params.RadiusKm, d.RadiusKm)
		}
		f.logger.Info().
			Float64("from_km", res.Params.RadiusKm).
			Float64("to_km", d.RadiusKm).
			Msg("radius escalated")

		f.notifier.Notify(Message{Kind: MessageRadiusIncreased, Text: d.Message, RadiusKm: d.RadiusKm})
		f.issueLocked(false)

	case escalation.ActionExhausted:
		f.empty = EmptyNoResults
		if f.metrics != nil {
			f.metrics.RadiusExhausted(res.Params.RadiusKm)
		}
		f.logger.Info().
			Float64("radius_km", res.Params.RadiusKm).
			Msg("no listings within the largest radius")

	default:
		if res.Empty {
			f.empty = EmptyNoResults
		} else {
			f.empty = EmptyNone
		}
	}
}
