package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofeed/geofeed/internal/api"
	"github.com/geofeed/geofeed/internal/api/handler"
	"github.com/geofeed/geofeed/internal/api/models"
	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/listing"
)

var minsk = geo.Coordinates{Lat: 53.9, Lng: 27.5667}

func seededRepo() *listing.InMemoryRepository {
	repo := listing.NewInMemoryRepository()
	furniture := "furniture"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	repo.Add(listing.Summary{ID: "near", Title: "Sofa", Price: 120, CreatedAt: now, CategoryID: &furniture, Location: &minsk})
	far := geo.Coordinates{Lat: 53.95, Lng: 27.5667}
	repo.Add(listing.Summary{ID: "far", Title: "Desk lamp", Price: 15, CreatedAt: now, Location: &far})
	return repo
}

type routerOpts struct {
	search    handler.NearbySearcher
	checks    []handler.Check
	rateLimit int
}

func newTestRouter(opts routerOpts) http.Handler {
	repo := seededRepo()
	search := opts.search
	if search == nil {
		search = listing.NewService(listing.ServiceConfig{Repository: repo, Logger: zerolog.Nop()})
	}
	return api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Search:    search,
		Listings:  repo,
		Checks:    opts.checks,
		RateLimit: opts.rateLimit,
	})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type searchFunc func(ctx context.Context, q listing.Query) ([]listing.Summary, error)

func (f searchFunc) Nearby(ctx context.Context, q listing.Query) ([]listing.Summary, error) {
	return f(ctx, q)
}

func TestRouter_HealthCheck(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	ok := handler.Check{Name: "listings", Ping: func(context.Context) error { return nil }}

	w := get(t, newTestRouter(routerOpts{checks: []handler.Check{ok}}), "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	failing := handler.Check{Name: "database", Ping: func(context.Context) error { return errors.New("connection refused") }}
	w = get(t, newTestRouter(routerOpts{checks: []handler.Check{ok, failing}}), "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, "connection refused", health.Details["database"])
}

func TestRouter_SystemStatus(t *testing.T) {
	checks := []handler.Check{
		{Name: "listings", Ping: func(context.Context) error { return nil }},
		{Name: "valkey", Ping: func(context.Context) error { return errors.New("timeout") }},
	}

	w := get(t, newTestRouter(routerOpts{checks: checks}), "/v1/ops/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusDegraded, status.Status)
	require.Len(t, status.Subsystems, 2)
	assert.Equal(t, models.HealthStatusOK, status.Subsystems[0].Status)
	assert.Equal(t, models.HealthStatusFail, status.Subsystems[1].Status)
	require.NotNil(t, status.Subsystems[1].Detail)
	assert.Equal(t, "timeout", *status.Subsystems[1].Detail)
}

func TestRouter_Nearby_ItemsEnvelope(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/nearby?lat=53.9&lng=27.5667&radiusKm=10")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.NearbyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "near", resp.Items[0].ID)
	assert.Equal(t, "far", resp.Items[1].ID)
	require.NotNil(t, resp.Items[1].DistanceKm)
	assert.InDelta(t, 5.56, *resp.Items[1].DistanceKm, 0.01)

	assert.Equal(t, 2, resp.Meta.Count)
	assert.Equal(t, 10.0, resp.Meta.RadiusKm)
}

func TestRouter_Nearby_Filters(t *testing.T) {
	h := newTestRouter(routerOpts{})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"small radius", "lat=53.9&lng=27.5667&radiusKm=3", []string{"near"}},
		{"text", "lat=53.9&lng=27.5667&radiusKm=10&q=%20LAMP%20", []string{"far"}},
		{"category", "lat=53.9&lng=27.5667&radiusKm=10&categoryId=furniture", []string{"near"}},
		{"nothing", "lat=10&lng=10&radiusKm=1", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, "/nearby?"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)

			var resp models.NearbyResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Items)

			ids := make([]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				ids = append(ids, item.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRouter_Nearby_AdsEnvelope(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/nearby?lat=53.9&lng=27.5667&radiusKm=3&envelope=ads")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AdsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Ads, 1)
	assert.Equal(t, "near", resp.Data.Ads[0].ID)
}

func TestRouter_Nearby_ValidationError(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/nearby?lng=abc&radiusKm=0&envelope=xml")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	assert.Equal(t, "/nearby", problem.Instance)
	assert.NotEmpty(t, problem.TraceID)

	codes := make(map[string]string)
	for _, fe := range problem.Errors {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]string{
		"lat":      models.CodeRequired,
		"lng":      models.CodeInvalid,
		"radiusKm": models.CodeOutOfRange,
		"envelope": models.CodeInvalid,
	}, codes)
}

func TestRouter_Nearby_RejectsNonFinite(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/nearby?lat=NaN&lng=27&radiusKm=Inf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Nearby_SearchFailure(t *testing.T) {
	failing := searchFunc(func(context.Context, listing.Query) ([]listing.Summary, error) {
		return nil, errors.New("connection reset")
	})

	w := get(t, newTestRouter(routerOpts{search: failing}), "/nearby?lat=53.9&lng=27.5667&radiusKm=5")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestRouter_Nearby_PanicRecovered(t *testing.T) {
	panicking := searchFunc(func(context.Context, listing.Query) ([]listing.Summary, error) {
		panic("boom")
	})

	w := get(t, newTestRouter(routerOpts{search: panicking}), "/nearby?lat=53.9&lng=27.5667&radiusKm=5")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_Listing(t *testing.T) {
	h := newTestRouter(routerOpts{})

	w := get(t, h, "/listings/near")
	require.Equal(t, http.StatusOK, w.Code)

	var s listing.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "Sofa", s.Title)
	require.NotNil(t, s.Location)
	assert.Equal(t, minsk, *s.Location)

	w = get(t, h, "/listings/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	h := newTestRouter(routerOpts{rateLimit: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, h, "/nearby?lat=53.9&lng=27.5667&radiusKm=1").Code)
	}
	w := get(t, h, "/nearby?lat=53.9&lng=27.5667&radiusKm=1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Liveness is never limited
	assert.Equal(t, http.StatusOK, get(t, h, "/v1/ops/health").Code)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/v1/ops/health")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRouter_NotFound(t *testing.T) {
	w := get(t, newTestRouter(routerOpts{}), "/v1/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
