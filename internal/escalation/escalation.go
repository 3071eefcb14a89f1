// Package escalation decides whether an empty result should widen the search radius.
package escalation

import (
	"fmt"

	"github.com/geofeed/geofeed/internal/geo"
)

// Action is the outcome of a decision.
type Action int

const (
	// ActionNone leaves the radius alone.
	ActionNone Action = iota
	// ActionEscalate moves to Decision.RadiusKm.
	ActionEscalate
	// ActionExhausted means the result was empty at the largest preset.
	ActionExhausted
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionEscalate:
		return "escalate"
	case ActionExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Input describes a resolved query.
type Input struct {
	SmartRadius bool
	RadiusKm    float64
	ResultCount int
	Presets     geo.Presets
}

// Decision is the escalator's answer for one resolved query.
type Decision struct {
	Action   Action
	RadiusKm float64
	// Message is the user-facing notice for an escalation, e.g. "increased radius to 3 km".
	Message string
}

// Decide returns at most one escalation step for in.
//
// Smart mode off or a non-empty result never escalates. An empty result at or
// beyond the largest preset is exhausted. Otherwise the radius moves to the
// smallest preset strictly larger than the current one.
func Decide(in Input) Decision {
	if !in.SmartRadius || in.ResultCount > 0 {
		return Decision{Action: ActionNone, RadiusKm: in.RadiusKm}
	}

	next, ok := in.Presets.Next(in.RadiusKm)
	if !ok {
		return Decision{Action: ActionExhausted, RadiusKm: in.RadiusKm}
	}

	return Decision{
		Action:   ActionEscalate,
		RadiusKm: next,
		Message:  "increased radius to " + geo.FormatRadius(next),
	}
}
