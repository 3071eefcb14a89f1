package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// DefaultRadiusKm is the radius used for the first query after mount.
const DefaultRadiusKm = 5.0

// ErrInvalidPresets is returned when a preset list is empty or has non-positive values.
var ErrInvalidPresets = errors.New("invalid radius presets")

const radiusEpsilon = 1e-9

// Presets is the ordered list of radii (km) offered to the user.
// The escalator only ever selects values from this list.
type Presets []float64

// DefaultPresets returns the stock preset list.
func DefaultPresets() Presets {
	return Presets{0.3, 1, 3, 5, 10, 20}
}

// NewPresets validates values and returns them sorted ascending without duplicates.
func NewPresets(values []float64) (Presets, error) {
	if len(values) == 0 {
		return nil, ErrInvalidPresets
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	out := make(Presets, 0, len(sorted))
	for _, v := range sorted {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPresets, v)
		}
		if len(out) > 0 && sameRadius(out[len(out)-1], v) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Max returns the largest preset.
func (p Presets) Max() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}

// Next returns the smallest preset strictly greater than current.
// The second return value is false when current is at or above the maximum.
func (p Presets) Next(current float64) (float64, bool) {
	for _, v := range p {
		if v > current+radiusEpsilon {
			return v, true
		}
	}
	return 0, false
}

// Contains reports whether v is one of the presets.
func (p Presets) Contains(v float64) bool {
	for _, preset := range p {
		if sameRadius(preset, v) {
			return true
		}
	}
	return false
}

// AtMax reports whether current is at or above the largest preset.
func (p Presets) AtMax(current float64) bool {
	_, ok := p.Next(current)
	return !ok
}

// FormatRadius renders a radius for user-facing messages: "300 m", "3 km", "2.5 km".
func FormatRadius(km float64) string {
	if km < 1 {
		return strconv.Itoa(int(math.Round(km*1000))) + " m"
	}
	return strconv.FormatFloat(km, 'f', -1, 64) + " km"
}

func sameRadius(a, b float64) bool {
	return math.Abs(a-b) < radiusEpsilon
}
