// Package geo provides the coordinate and radius primitives shared by the feed.
package geo

import (
	"errors"
	"fmt"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// ErrInvalidCoordinates is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// DefaultLocation is used when the device location cannot be acquired and
// the user opts into the fallback.
var DefaultLocation = Coordinates{Lat: 53.9, Lng: 27.5667}

// Coordinates is an immutable WGS 84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that the coordinates are within range.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: lat=%f lng=%f", ErrInvalidCoordinates, c.Lat, c.Lng)
	}
	return nil
}

// Point returns the orb representation (lon, lat order).
func (c Coordinates) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// String implements fmt.Stringer.
func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// FromPoint converts an orb point back to coordinates.
func FromPoint(p orb.Point) Coordinates {
	return Coordinates{Lat: p.Lat(), Lng: p.Lon()}
}

// DistanceKm returns the great-circle distance between two points in kilometres.
func DistanceKm(a, b Coordinates) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point()) / 1000
}

// Offset returns the point km kilometres from c along bearingDeg (clockwise from north).
func Offset(c Coordinates, bearingDeg, km float64) Coordinates {
	return FromPoint(orbgeo.PointAtBearingAndDistance(c.Point(), bearingDeg, km*1000))
}

// BoundAround returns the bounding box enclosing a circle of radiusKm around center.
func BoundAround(center Coordinates, radiusKm float64) orb.Bound {
	return orbgeo.NewBoundAroundPoint(center.Point(), radiusKm*1000)
}

// Cell returns the geohash cell containing c at the given precision.
// Nearby points share a cell, which makes it a useful cache key.
func Cell(c Coordinates, precision uint) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, precision)
}

// CellCenter returns the center of a geohash cell and the distance (km) from
// that center to the cell's corners. Any point in the cell is within that distance.
func CellCenter(hash string) (Coordinates, float64) {
	box := geohash.BoundingBox(hash)
	lat, lng := box.Center()
	center := Coordinates{Lat: lat, Lng: lng}
	corner := Coordinates{Lat: box.MaxLat, Lng: box.MaxLng}
	return center, DistanceKm(center, corner)
}

// CellPrecision picks a geohash precision whose cell is comfortably smaller
// than the search radius.
func CellPrecision(radiusKm float64) uint {
	switch {
	case radiusKm <= 0.5:
		return 7 // ~150m cells
	case radiusKm <= 3:
		return 6 // ~1.2km
	case radiusKm <= 10:
		return 5 // ~4.9km
	default:
		return 4 // ~39km
	}
}
