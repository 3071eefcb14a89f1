// Package location acquires the device position and commits it to the geo store.
package location

import (
	"context"
	"errors"
	"fmt"

	"github.com/geofeed/geofeed/internal/geo"
)

// Acquisition errors. Every error returned by a Locator matches exactly one of these.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrTimeout          = errors.New("location request timed out")
	ErrUnavailable      = errors.New("location unavailable")
)

// Position is a resolved device position.
type Position struct {
	Coordinates geo.Coordinates
	// City is the locality name when the source knows it.
	City string
}

// PositionSource is the platform primitive that produces a single position fix.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// SourceFunc adapts a function to PositionSource.
type SourceFunc func(ctx context.Context) (Position, error)

// CurrentPosition calls f.
func (f SourceFunc) CurrentPosition(ctx context.Context) (Position, error) {
	return f(ctx)
}

// StaticSource always answers with the same position.
type StaticSource struct {
	Position Position
}

// NewStaticSource returns a source fixed at c.
func NewStaticSource(c geo.Coordinates, city string) *StaticSource {
	return &StaticSource{Position: Position{Coordinates: c, City: city}}
}

// CurrentPosition returns the fixed position unless ctx is already done.
func (s *StaticSource) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	return s.Position, nil
}

// ClassifyError maps an arbitrary source error onto one of the acquisition errors.
// Errors that already match one are returned unchanged.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// Ensure the sources implement PositionSource.
var (
	_ PositionSource = (*StaticSource)(nil)
	_ PositionSource = SourceFunc(nil)
)
