// Package panel implements the draggable three-height list panel.
package panel

import (
	"math"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/store"
)

// Height is a resting height of the panel.
type Height string

// Panel heights.
const (
	Collapsed Height = "collapsed"
	Half      Height = "half"
	Full      Height = "full"
)

// Phase is the gesture phase.
type Phase string

// Gesture phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseDragging Phase = "dragging"
)

// Event drives a height transition.
type Event string

// Panel events.
const (
	EventSwipeUp      Event = "swipe_up"
	EventSwipeDown    Event = "swipe_down"
	EventTap          Event = "tap"
	EventSelectMarker Event = "select_marker"
	EventToggleExpand Event = "toggle_expand"
)

// TapThreshold is the largest vertical travel (px) still treated as a tap.
const TapThreshold = 40.0

// MaxViewportPercent caps the share of the viewport the panel may cover.
const MaxViewportPercent = 85

var viewportPercent = map[Height]int{
	Collapsed: 15,
	Half:      45,
	Full:      75,
}

// transitions lists every height change. A missing (height, event) pair leaves
// the height unchanged, which makes swipes saturate at either end.
var transitions = map[Height]map[Event]Height{
	Collapsed: {
		EventSwipeUp:      Half,
		EventSelectMarker: Half,
		EventToggleExpand: Full,
	},
	Half: {
		EventSwipeUp:      Full,
		EventSwipeDown:    Collapsed,
		EventToggleExpand: Full,
	},
	Full: {
		EventSwipeDown:    Half,
		EventSelectMarker: Half,
		EventToggleExpand: Collapsed,
	},
}

// ViewportPercent returns the share of the viewport covered at h.
func ViewportPercent(h Height) int {
	p, ok := viewportPercent[h]
	if !ok {
		p = viewportPercent[Half]
	}
	if p > MaxViewportPercent {
		return MaxViewportPercent
	}
	return p
}

// Next returns the height reached from h on e.
func Next(h Height, e Event) Height {
	if to, ok := transitions[h][e]; ok {
		return to
	}
	return h
}

// HeightSink receives height changes. *store.Store implements it.
type HeightSink interface {
	SetSheetHeight(h store.SheetHeight)
}

// Config holds configuration for the Controller.
type Config struct {
	// Initial height (default: half).
	Initial Height

	// Sink mirrors height changes (optional).
	Sink HeightSink

	// Logger for transitions.
	Logger zerolog.Logger
}

// Controller is the panel state machine. It is safe for concurrent use and
// never depends on network state.
type Controller struct {
	sink   HeightSink
	logger zerolog.Logger

	initial Height

	mu        sync.Mutex
	height    Height
	phase     Phase
	startY    float64
	listeners []func(Height)
}

// New creates a Controller at cfg.Initial.
func New(cfg Config) *Controller {
	initial := cfg.Initial
	if _, ok := transitions[initial]; !ok {
		initial = Half
	}

	return &Controller{
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		initial: initial,
		height:  initial,
		phase:   PhaseIdle,
	}
}

// Height returns the current height.
func (c *Controller) Height() Height {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Phase returns the current gesture phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// OnChange registers fn to be called after every height change.
func (c *Controller) OnChange(fn func(Height)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// BeginDrag starts a gesture at screen coordinate y.
func (c *Controller) BeginDrag(y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.phase = PhaseDragging
	c.startY = y
}

// CancelDrag abandons the gesture without changing height.
func (c *Controller) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
}

// EndDrag finishes the gesture at y and returns the resulting height.
// Screen y grows downward, so a positive startY-y is an upward swipe.
func (c *Controller) EndDrag(y float64) Height {
	c.mu.Lock()
	if c.phase != PhaseDragging {
		h := c.height
		c.mu.Unlock()
		return h
	}
	c.phase = PhaseIdle

	delta := c.startY - y
	event := EventTap
	switch {
	case math.Abs(delta) <= TapThreshold:
	case delta > 0:
		event = EventSwipeUp
	default:
		event = EventSwipeDown
	}
	return c.applyLocked(event)
}

// SelectMarker brings the panel to half height.
func (c *Controller) SelectMarker() Height {
	c.mu.Lock()
	return c.applyLocked(EventSelectMarker)
}

// ToggleExpand switches between full and collapsed; half expands to full.
func (c *Controller) ToggleExpand() Height {
	c.mu.Lock()
	return c.applyLocked(EventToggleExpand)
}

// Reset abandons any gesture and returns the panel to its initial height.
func (c *Controller) Reset() Height {
	c.mu.Lock()
	c.phase = PhaseIdle
	return c.setLocked(c.initial, "reset")
}

// applyLocked runs the transition for e and releases c.mu.
func (c *Controller) applyLocked(e Event) Height {
	return c.setLocked(Next(c.height, e), string(e))
}

// setLocked moves the panel to h and releases c.mu.
func (c *Controller) setLocked(to Height, cause string) Height {
	from := c.height
	c.height = to
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	if to == from {
		return to
	}

	c.logger.Debug().
		Str("event", cause).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("panel height changed")

	if c.sink != nil {
		c.sink.SetSheetHeight(store.SheetHeight(to))
	}
	for _, fn := range listeners {
		fn(to)
	}
	return to
}
