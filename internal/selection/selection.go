// Package selection keeps the selected listing in sync between map markers and list rows.
package selection

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/panel"
)

// PanelOpener brings the panel to half height. *panel.Controller implements it.
type PanelOpener interface {
	SelectMarker() panel.Height
}

// MapFocuser recenters or highlights a listing on the map.
type MapFocuser interface {
	FocusListing(id string)
}

// Config holds configuration for Sync.
type Config struct {
	// Panel is forced to half height on marker selection (optional).
	Panel PanelOpener

	// Map is asked to focus a listing selected from the list (optional).
	Map MapFocuser

	// Logger for selection changes.
	Logger zerolog.Logger
}

// Sync holds the single selected listing id.
type Sync struct {
	panel  PanelOpener
	mapper MapFocuser
	logger zerolog.Logger

	mu        sync.Mutex
	selected  string
	listeners []func(id string)
}

// New creates a new Sync with nothing selected.
func New(cfg Config) *Sync {
	return &Sync{
		panel:  cfg.Panel,
		mapper: cfg.Map,
		logger: cfg.Logger,
	}
}

// Selected returns the selected id, or "" when nothing is selected.
func (s *Sync) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SetMap replaces the map focuser.
func (s *Sync) SetMap(m MapFocuser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapper = m
}

// OnChange registers fn to be called after the selection changes.
func (s *Sync) OnChange(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SelectMarker selects id from a map marker and opens the panel to half height.
func (s *Sync) SelectMarker(id string) {
	s.set(id, "marker")
	if s.panel != nil {
		s.panel.SelectMarker()
	}
}

// SelectRow selects id from a list row and asks the map to focus it.
// The panel height is left alone.
func (s *Sync) SelectRow(id string) {
	s.set(id, "row")

	s.mu.Lock()
	mapper := s.mapper
	s.mu.Unlock()

	if mapper != nil {
		mapper.FocusListing(id)
	}
}

// Clear resets the selection.
func (s *Sync) Clear() {
	s.set("", "clear")
}

func (s *Sync) set(id, source string) {
	s.mu.Lock()
	changed := s.selected != id
	s.selected = id
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if !changed {
		return
	}

	s.logger.Debug().
		Str("listing_id", id).
		Str("source", source).
		Msg("selection changed")

	for _, fn := range listeners {
		fn(id)
	}
}
