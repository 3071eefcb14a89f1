package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geofeed/geofeed/internal/geo"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
// Distance is computed with a haversine expression after a bounding-box prefilter,
// so no PostGIS extension is required.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL listing repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const nearbyQuery = `
	SELECT id, title, price, photos, category_id, created_at, lat, lng, distance_km
	FROM (
		SELECT
			id, title, price, photos, category_id, created_at, lat, lng,
			6371.0 * 2 * asin(sqrt(
				power(sin(radians(lat - $1) / 2), 2) +
				cos(radians($1)) * cos(radians(lat)) * power(sin(radians(lng - $2) / 2), 2)
			)) AS distance_km
		FROM listings
		WHERE lat BETWEEN $3 AND $4
		  AND lng BETWEEN $5 AND $6
		  AND status = 'active'
		  AND ($7 = '' OR title ILIKE '%' || $7 || '%')
		  AND ($8 = '' OR category_id = $8)
	) nearby
	WHERE distance_km <= $9
	ORDER BY distance_km ASC, created_at DESC
	LIMIT $10
`

// FindNearby returns active listings within the query radius, nearest first.
func (r *PostgresRepository) FindNearby(ctx context.Context, q Query, limit int) ([]Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	bound := geo.BoundAround(q.Center, q.RadiusKm)

	rows, err := r.pool.Query(ctx, nearbyQuery,
		q.Center.Lat, q.Center.Lng,
		bound.Min.Lat(), bound.Max.Lat(),
		bound.Min.Lon(), bound.Max.Lon(),
		q.Text, q.CategoryID,
		q.RadiusKm, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query nearby listings: %w", err)
	}
	defer rows.Close()

	result := make([]Summary, 0)
	for rows.Next() {
		var (
			s        Summary
			category *string
			lat, lng float64
			distance float64
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Price, &s.Photos, &category, &s.CreatedAt, &lat, &lng, &distance); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		s.CategoryID = category
		s.Location = &geo.Coordinates{Lat: lat, Lng: lng}
		s.DistanceKm = &distance
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}

	return result, nil
}

// Get retrieves a listing by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Summary, error) {
	query := `
		SELECT id, title, price, photos, category_id, created_at, lat, lng
		FROM listings
		WHERE id = $1
	`

	var (
		s        Summary
		lat, lng float64
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.Title, &s.Price, &s.Photos, &s.CategoryID, &s.CreatedAt, &lat, &lng)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Location = &geo.Coordinates{Lat: lat, Lng: lng}

	return &s, nil
}

// Insert stores a listing. Existing IDs are left untouched so seeding is idempotent.
func (r *PostgresRepository) Insert(ctx context.Context, s Summary) error {
	if s.Location == nil {
		return fmt.Errorf("insert listing %s: location is required", s.ID)
	}

	query := `
		INSERT INTO listings (id, title, price, photos, category_id, created_at, lat, lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	photos := s.Photos
	if photos == nil {
		photos = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Title, s.Price, photos, s.CategoryID, s.CreatedAt, s.Location.Lat, s.Location.Lng)
	if err != nil {
		return fmt.Errorf("insert listing %s: %w", s.ID, err)
	}
	return nil
}

// Ping checks the connection pool.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
