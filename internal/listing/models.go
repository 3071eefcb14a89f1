// Package listing provides nearby listing summaries, their ranking and the
// server-side nearby search used by the dev server.
package listing

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/geofeed/geofeed/internal/geo"
)

// Listing errors.
var (
	ErrInvalidQuery = errors.New("invalid nearby query")
	ErrNotFound     = errors.New("listing not found")
)

// Summary is the list/marker representation of a listing.
// Result sets are replaced wholesale; a Summary is never mutated after it is published.
type Summary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Price      float64   `json:"price"`
	Photos     []string  `json:"photos"`
	DistanceKm *float64  `json:"distanceKm,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	CategoryID *string   `json:"categoryId,omitempty"`

	// Location is used for ranking and markers. Upstreams that omit it leave it nil.
	Location *geo.Coordinates `json:"location,omitempty"`
}

// Query describes a nearby search.
type Query struct {
	Center     geo.Coordinates
	RadiusKm   float64
	Text       string
	CategoryID string
}

// Validate checks the query parameters.
func (q Query) Validate() error {
	if err := q.Center.Validate(); err != nil {
		return errors.Join(ErrInvalidQuery, err)
	}
	if q.RadiusKm <= 0 {
		return errors.Join(ErrInvalidQuery, errors.New("radius must be positive"))
	}
	return nil
}

// Matches reports whether s satisfies the text and category filters of q.
// Distance is not checked here.
func (q Query) Matches(s Summary) bool {
	if q.CategoryID != "" && (s.CategoryID == nil || *s.CategoryID != q.CategoryID) {
		return false
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		return strings.Contains(strings.ToLower(s.Title), strings.ToLower(text))
	}
	return true
}

// Rank returns a new slice ordered by distance ascending, newest first on ties.
// Missing distances are filled in from center when the listing has a location;
// listings with no known distance sort last.
func Rank(items []Summary, center geo.Coordinates) []Summary {
	ranked := make([]Summary, len(items))
	copy(ranked, items)

	for i := range ranked {
		if ranked[i].DistanceKm == nil && ranked[i].Location != nil {
			d := geo.DistanceKm(center, *ranked[i].Location)
			ranked[i].DistanceKm = &d
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := ranked[i].DistanceKm, ranked[j].DistanceKm
		switch {
		case di == nil && dj == nil:
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		case di == nil:
			return false
		case dj == nil:
			return true
		case *di != *dj:
			return *di < *dj
		default:
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		}
	})

	return ranked
}
