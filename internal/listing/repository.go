package listing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geofeed/geofeed/internal/geo"
)

// Repository defines storage for listings that can be searched by distance.
type Repository interface {
	// FindNearby returns listings within q.RadiusKm of q.Center matching q's filters.
	FindNearby(ctx context.Context, q Query, limit int) ([]Summary, error)

	// Get retrieves a listing by ID.
	Get(ctx context.Context, id string) (*Summary, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and for running the dev server without a database.
type InMemoryRepository struct {
	mu       sync.RWMutex
	listings map[string]Summary
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		listings: make(map[string]Summary),
	}
}

// Add stores a listing, assigning an ID and creation time when missing.
func (r *InMemoryRepository) Add(s Summary) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = "lst_" + uuid.New().String()[:12]
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	r.listings[s.ID] = s
	return s
}

// FindNearby scans all listings.
func (r *InMemoryRepository) FindNearby(_ context.Context, q Query, limit int) ([]Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := geo.BoundAround(q.Center, q.RadiusKm)
	result := make([]Summary, 0)
	for _, s := range r.listings {
		if s.Location == nil || !bound.Contains(s.Location.Point()) {
			continue
		}
		d := geo.DistanceKm(q.Center, *s.Location)
		if d > q.RadiusKm || !q.Matches(s) {
			continue
		}
		cpy := s
		cpy.DistanceKm = &d
		result = append(result, cpy)
	}

	result = Rank(result, q.Center)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Get retrieves a listing by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := s
	return &cpy, nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
