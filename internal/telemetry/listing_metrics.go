package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const listingMeterName = "github.com/geofeed/geofeed/internal/listing"

// CacheMetrics counts nearby cache lookups. It satisfies listing.CacheRecorder.
type CacheMetrics struct {
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// NewCacheMetrics creates cache instruments on the global meter provider.
func NewCacheMetrics() (*CacheMetrics, error) {
	meter := otel.Meter(listingMeterName)

	hits, err := meter.Int64Counter(
		"geofeed.nearby.cache.hit",
		metric.WithDescription("Nearby searches served from the cell cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"geofeed.nearby.cache.miss",
		metric.WithDescription("Nearby searches that went to the repository"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{hits: hits, misses: misses}, nil
}

// CacheHit records a cache hit.
func (m *CacheMetrics) CacheHit() {
	m.hits.Add(context.TODO(), 1)
}

// CacheMiss records a cache miss.
func (m *CacheMetrics) CacheMiss() {
	m.misses.Add(context.TODO(), 1)
}
