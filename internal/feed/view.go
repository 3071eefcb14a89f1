package feed

import (
	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/panel"
	"github.com/geofeed/geofeed/internal/store"
)

// EmptyState describes why the list is empty.
type EmptyState string

const (
	// EmptyNone means the list is not empty, or nothing has resolved yet.
	EmptyNone EmptyState = ""
	// EmptyEscalating means an empty result triggered a wider query that is still running.
	EmptyEscalating EmptyState = "escalating"
	// EmptyNoResults means nothing was found and no automatic escalation will follow.
	// The user may still increase the radius by hand.
	EmptyNoResults EmptyState = "no_results"
)

// MessageKind classifies transient messages.
type MessageKind string

const (
	// MessageRadiusIncreased is sent after an automatic escalation.
	MessageRadiusIncreased MessageKind = "radius_increased"
)

// Message is a transient, user-facing notice such as a toast.
type Message struct {
	Kind     MessageKind
	Text     string
	RadiusKm float64
}

// Notifier displays transient messages.
type Notifier interface {
	Notify(m Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(m Message)

// Notify calls f.
func (f NotifierFunc) Notify(m Message) {
	f(m)
}

// ViewportProps is what the map view is rendered from. The callbacks feed map
// events back into the feed.
type ViewportProps struct {
	Lat           float64
	Lng           float64
	RadiusKm      float64
	Feed          []listing.Summary
	SelectedID    string
	OnMarkerClick func(id string)
	OnMapMove     func(lat, lng float64)
}

// Viewport returns the map props. The second value is false while there are no
// coordinates to center on.
func (f *Feed) Viewport() (ViewportProps, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.store.Snapshot()
	props := ViewportProps{
		RadiusKm:      snap.RadiusKm,
		Feed:          f.scheduler.Snapshot().Listings,
		SelectedID:    f.selection.Selected(),
		OnMarkerClick: f.OnMarkerClick,
		OnMapMove:     f.OnMapMove,
	}
	if !snap.HasCoordinates() {
		return props, false
	}
	props.Lat = snap.Coordinates.Lat
	props.Lng = snap.Coordinates.Lng
	return props, true
}

// State is a render-ready view of the whole feed.
type State struct {
	Geo store.Snapshot

	Listings []listing.Summary
	Loading  bool
	// QueryError is shown as a non-blocking banner; Listings still hold the last result.
	QueryError error
	// LocateError blocks the feed until a retry or the default location succeeds.
	LocateError error
	Empty       EmptyState

	SearchText string
	CategoryID string

	Panel           panel.Height
	ViewportPercent int
	SelectedID      string
}

// Blocked reports whether the feed cannot show listings because location
// acquisition failed.
func (s State) Blocked() bool {
	return s.LocateError != nil
}

// State returns the current view of the feed.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	geoSnap := f.store.Snapshot()
	q := f.scheduler.Snapshot()
	height := f.panel.Height()

	st := State{
		Geo:             geoSnap,
		Listings:        q.Listings,
		Loading:         q.Loading,
		QueryError:      q.Err,
		Empty:           f.empty,
		SearchText:      f.text,
		CategoryID:      f.category,
		Panel:           height,
		ViewportPercent: panel.ViewportPercent(height),
		SelectedID:      f.selection.Selected(),
	}
	if geoSnap.Status == store.StatusError {
		st.LocateError = geoSnap.LocateError
	}
	return st
}
