package nearbyhttp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/listing/nearbyhttp"
	"github.com/geofeed/geofeed/internal/provider/resilience"
)

var center = geo.Coordinates{Lat: 53.9, Lng: 27.5667}

func newClient(url string) *nearbyhttp.Client {
	rc := resilience.DefaultClientConfig("nearby-test")
	rc.MaxRetries = 0
	return nearbyhttp.NewClient(nearbyhttp.ClientConfig{
		BaseURL:    url,
		HTTPClient: resilience.NewClient(rc),
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Nearby_ItemsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nearby", r.URL.Path)
		assert.Equal(t, "53.9", r.URL.Query().Get("lat"))
		assert.Equal(t, "27.5667", r.URL.Query().Get("lng"))
		assert.Equal(t, "3", r.URL.Query().Get("radiusKm"))
		assert.Equal(t, "lamp", r.URL.Query().Get("q"))
		assert.False(t, r.URL.Query().Has("categoryId"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"id":"far","title":"Floor lamp","price":20,"photos":[],"distanceKm":2.5,"createdAt":"2026-01-02T10:00:00Z"},
			{"id":"near","title":"Desk lamp","price":10,"photos":["a.jpg"],"distanceKm":0.4,"createdAt":"2026-01-01T10:00:00Z","categoryId":"home"}
		]}`))
	}))
	defer server.Close()

	items, err := newClient(server.URL).Nearby(context.Background(), listing.Query{
		Center:   center,
		RadiusKm: 3,
		Text:     " lamp ",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "near", items[0].ID)
	assert.Equal(t, "far", items[1].ID)
	require.NotNil(t, items[0].CategoryID)
	assert.Equal(t, "home", *items[0].CategoryID)
	assert.Equal(t, []string{"a.jpg"}, items[0].Photos)
}

func TestClient_Nearby_DataAdsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cars", r.URL.Query().Get("categoryId"))
		assert.False(t, r.URL.Query().Has("q"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"ads":[
			{"id":"x","title":"Sedan","price":9000,"photos":[],"createdAt":"2026-01-01T10:00:00Z","location":{"lat":53.91,"lng":27.5667}}
		]}}`))
	}))
	defer server.Close()

	items, err := newClient(server.URL+"/").Nearby(context.Background(), listing.Query{
		Center:     center,
		RadiusKm:   5,
		CategoryID: "cars",
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].ID)

	// Distance is filled in from the location
	require.NotNil(t, items[0].DistanceKm)
	assert.InDelta(t, 1.11, *items[0].DistanceKm, 0.02)
}

func TestClient_Nearby_EmptyItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	items, err := newClient(server.URL).Nearby(context.Background(), listing.Query{Center: center, RadiusKm: 1})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_Nearby_UnknownEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	_, err := newClient(server.URL).Nearby(context.Background(), listing.Query{Center: center, RadiusKm: 1})
	assert.ErrorIs(t, err, nearbyhttp.ErrUnexpectedEnvelope)
}

func TestClient_Nearby_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newClient(server.URL).Nearby(context.Background(), listing.Query{Center: center, RadiusKm: 1})
	require.Error(t, err)

	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestClient_Nearby_Cancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newClient(server.URL).Nearby(ctx, listing.Query{Center: center, RadiusKm: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Nearby_InvalidQuery(t *testing.T) {
	_, err := newClient("http://unused").Nearby(context.Background(), listing.Query{Center: center})
	assert.ErrorIs(t, err, listing.ErrInvalidQuery)
}

func TestClient_URL(t *testing.T) {
	c := newClient("http://api.example.com/")
	u := c.URL(listing.Query{Center: center, RadiusKm: 0.3, Text: "red bike"})
	assert.Equal(t, "http://api.example.com/nearby?lat=53.9&lng=27.5667&q=red+bike&radiusKm=0.3", u)
}
