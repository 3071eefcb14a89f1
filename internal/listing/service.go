package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/geo"
)

// ServiceConfig holds configuration for the nearby listing service.
type ServiceConfig struct {
	// Repository is the listing storage.
	Repository Repository

	// Cache stores repository results per geohash cell (optional).
	Cache Cache

	// CacheTTL is how long a cell result is reused (default: 30 seconds).
	CacheTTL time.Duration

	// Limit caps the number of listings returned (default: 100).
	Limit int

	// Metrics records cache effectiveness (optional).
	Metrics CacheRecorder

	// Logger for service operations.
	Logger zerolog.Logger
}

// CacheRecorder observes nearby cache lookups.
type CacheRecorder interface {
	CacheHit()
	CacheMiss()
}

type noopRecorder struct{}

func (noopRecorder) CacheHit()  {}
func (noopRecorder) CacheMiss() {}

// Service answers nearby searches. Repository results are cached per geohash
// cell of the search center, widened by the cell size, and then filtered and
// ranked against the exact center on every request.
type Service struct {
	repo     Repository
	cache    Cache
	cacheTTL time.Duration
	limit    int
	metrics  CacheRecorder
	logger   zerolog.Logger
}

// NewService creates a new nearby listing service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &Service{
		repo:     cfg.Repository,
		cache:    cfg.Cache,
		cacheTTL: cacheTTL,
		limit:    limit,
		metrics:  metrics,
		logger:   cfg.Logger,
	}
}

// Nearby returns listings within q.RadiusKm of q.Center, ranked nearest first.
func (s *Service) Nearby(ctx context.Context, q Query) ([]Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if s.cache == nil {
		return s.repo.FindNearby(ctx, q, s.limit)
	}

	hash := geo.Cell(q.Center, geo.CellPrecision(q.RadiusKm))
	key := cacheKey(hash, q)

	candidates, err := s.cached(ctx, key)
	if err == nil {
		s.metrics.CacheHit()
	} else {
		s.metrics.CacheMiss()
		cellCenter, margin := geo.CellCenter(hash)
		widened := q
		widened.Center = cellCenter
		widened.RadiusKm = q.RadiusKm + margin

		// Fetch extra so trimming after re-centering still fills the page.
		candidates, err = s.repo.FindNearby(ctx, widened, s.limit*2)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, candidates)
	}

	result := make([]Summary, 0, len(candidates))
	for _, c := range candidates {
		if c.Location == nil {
			continue
		}
		d := geo.DistanceKm(q.Center, *c.Location)
		if d > q.RadiusKm {
			continue
		}
		c.DistanceKm = &d
		result = append(result, c)
	}

	result = Rank(result, q.Center)
	if len(result) > s.limit {
		result = result[:s.limit]
	}
	return result, nil
}

func (s *Service) cached(ctx context.Context, key string) ([]Summary, error) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("nearby cache read failed")
		}
		return nil, err
	}

	var items []Summary
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt nearby cache entry")
		return nil, err
	}
	return items, nil
}

func (s *Service) store(ctx context.Context, key string, items []Summary) {
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("nearby cache write failed")
	}
}

func cacheKey(hash string, q Query) string {
	return fmt.Sprintf("nearby:%s:%g:%s:%s",
		hash, q.RadiusKm, strings.ToLower(strings.TrimSpace(q.Text)), q.CategoryID)
}
