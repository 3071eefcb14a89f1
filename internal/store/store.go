// Package store holds the session-wide geo state consumed by every feed component.
package store

import (
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/geo"
)

// Store errors.
var (
	ErrInvalidRadius = errors.New("radius must be positive")
	ErrNotLoading    = errors.New("no location request in progress")
)

// Status is the location acquisition status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// SheetHeight is the bottom panel height as last committed by the panel controller.
type SheetHeight string

const (
	SheetCollapsed SheetHeight = "collapsed"
	SheetHalf      SheetHeight = "half"
	SheetFull      SheetHeight = "full"
)

// Snapshot is an immutable copy of the state handed to readers and subscribers.
type Snapshot struct {
	Coordinates *geo.Coordinates
	Status      Status
	LocateError error
	RadiusKm    float64
	SmartRadius bool
	SheetHeight SheetHeight
	CityName    string
	Version     uint64
}

// HasCoordinates reports whether a position has been committed.
func (s Snapshot) HasCoordinates() bool {
	return s.Coordinates != nil
}

// Config holds the initial values for a Store.
type Config struct {
	// DefaultRadiusKm is the radius active after construction and reset.
	// Default: 5 km
	DefaultRadiusKm float64

	// SmartRadius is the initial smart radius mode.
	SmartRadius bool

	// SheetHeight is the initial panel height. Default: half.
	SheetHeight SheetHeight

	// Logger for state transitions.
	Logger zerolog.Logger
}

// SetRadiusOptions qualifies a radius change.
type SetRadiusOptions struct {
	// Manual marks a user pick; it clears smart radius mode.
	Manual bool
}

// Store is the single source of truth for coordinates, acquisition status,
// radius, smart radius mode, panel height and city name.
// It is created once per session and torn down with Reset.
type Store struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.RWMutex
	state Snapshot

	subMu       sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// New creates a store populated with the configured defaults.
func New(cfg Config) *Store {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = geo.DefaultRadiusKm
	}
	if cfg.SheetHeight == "" {
		cfg.SheetHeight = SheetHalf
	}

	s := &Store{
		cfg:         cfg,
		logger:      cfg.Logger,
		subscribers: make(map[int]func(Snapshot)),
	}
	s.state = s.initialState()
	return s
}

func (s *Store) initialState() Snapshot {
	return Snapshot{
		Status:      StatusIdle,
		RadiusKm:    s.cfg.DefaultRadiusKm,
		SmartRadius: s.cfg.SmartRadius,
		SheetHeight: s.cfg.SheetHeight,
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn to be called synchronously after every mutation.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// SetCoordinates replaces the current coordinates, e.g. on a manual map recenter.
func (s *Store) SetCoordinates(c geo.Coordinates) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mutate(func(st *Snapshot) {
		st.Coordinates = &c
	})
	return nil
}

// SetRadius changes the active radius. A manual change clears smart radius mode;
// an automatic one (escalation) leaves it untouched.
func (s *Store) SetRadius(km float64, opts SetRadiusOptions) error {
	if km <= 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		return ErrInvalidRadius
	}
	s.mutate(func(st *Snapshot) {
		st.RadiusKm = km
		if opts.Manual {
			st.SmartRadius = false
		}
	})
	s.logger.Debug().
		Float64("radius_km", km).
		Bool("manual", opts.Manual).
		Msg("radius changed")
	return nil
}

// ToggleSmartRadius flips smart radius mode without touching the radius.
// Returns the new mode.
func (s *Store) ToggleSmartRadius() bool {
	var enabled bool
	s.mutate(func(st *Snapshot) {
		st.SmartRadius = !st.SmartRadius
		enabled = st.SmartRadius
	})
	return enabled
}

// SetSheetHeight records the panel height. Only the panel controller calls this.
func (s *Store) SetSheetHeight(h SheetHeight) {
	s.mutate(func(st *Snapshot) {
		st.SheetHeight = h
	})
}

// SetCityName records the human-readable place name for the current position.
func (s *Store) SetCityName(name string) {
	s.mutate(func(st *Snapshot) {
		st.CityName = name
	})
}

// BeginLocate moves the status to loading. It returns false, leaving the state
// untouched, when a request is already loading.
func (s *Store) BeginLocate() bool {
	started := false
	s.mutateIf(func(st *Snapshot) bool {
		if st.Status == StatusLoading {
			return false
		}
		st.Status = StatusLoading
		st.LocateError = nil
		started = true
		return true
	})
	return started
}

// CompleteLocate commits a successful location read.
func (s *Store) CompleteLocate(c geo.Coordinates, city string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var err error
	s.mutateIf(func(st *Snapshot) bool {
		if st.Status != StatusLoading {
			err = ErrNotLoading
			return false
		}
		st.Coordinates = &c
		st.Status = StatusReady
		st.LocateError = nil
		if city != "" {
			st.CityName = city
		}
		if st.RadiusKm <= 0 {
			st.RadiusKm = s.cfg.DefaultRadiusKm
		}
		return true
	})
	return err
}

// FailLocate records a failed location read. Coordinates are left as they were.
func (s *Store) FailLocate(cause error) error {
	var err error
	s.mutateIf(func(st *Snapshot) bool {
		if st.Status != StatusLoading {
			err = ErrNotLoading
			return false
		}
		st.Status = StatusError
		st.LocateError = cause
		return true
	})
	return err
}

// UseLocation commits coordinates outside a location request, e.g. the
// default-location fallback after an acquisition error.
func (s *Store) UseLocation(c geo.Coordinates, city string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mutate(func(st *Snapshot) {
		st.Coordinates = &c
		st.Status = StatusReady
		st.LocateError = nil
		if city != "" {
			st.CityName = city
		}
	})
	return nil
}

// Reset returns the store to its initial state, e.g. on logout.
// Subscribers are kept and notified.
func (s *Store) Reset() {
	s.mutate(func(st *Snapshot) {
		version := st.Version
		*st = s.initialState()
		st.Version = version
	})
	s.logger.Info().Msg("geo state reset")
}

func (s *Store) mutate(fn func(*Snapshot)) {
	s.mutateIf(func(st *Snapshot) bool {
		fn(st)
		return true
	})
}

// mutateIf applies fn under the write lock and, if it reports a change,
// bumps the version and notifies subscribers after the lock is released.
func (s *Store) mutateIf(fn func(*Snapshot) bool) {
	s.mu.Lock()
	changed := fn(&s.state)
	if changed {
		s.state.Version++
	}
	snap := s.state
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
