package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/geofeed/geofeed/internal/query"
)

const feedMeterName = "github.com/geofeed/geofeed/internal/feed"

// FeedMetrics holds the instruments for the feed core: query lifecycle and
// radius escalation. It satisfies feed.Recorder.
type FeedMetrics struct {
	queriesIssued   metric.Int64Counter
	queriesSettled  metric.Int64Counter
	queryDuration   metric.Float64Histogram
	resultSize      metric.Int64Histogram
	escalations     metric.Int64Counter
	exhaustedRadius metric.Int64Counter
}

// NewFeedMetrics creates feed instruments on the global meter provider.
func NewFeedMetrics() (*FeedMetrics, error) {
	meter := otel.Meter(feedMeterName)

	queriesIssued, err := meter.Int64Counter(
		"geofeed.query.issued",
		metric.WithDescription("Nearby queries sent to the listings backend"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	queriesSettled, err := meter.Int64Counter(
		"geofeed.query.settled",
		metric.WithDescription("Nearby queries by outcome"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"geofeed.query.duration",
		metric.WithDescription("Duration of applied nearby queries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resultSize, err := meter.Int64Histogram(
		"geofeed.query.result_size",
		metric.WithDescription("Listings returned by applied nearby queries"),
		metric.WithUnit("{listing}"),
	)
	if err != nil {
		return nil, err
	}

	escalations, err := meter.Int64Counter(
		"geofeed.radius.escalated",
		metric.WithDescription("Automatic radius escalations after an empty result"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return nil, err
	}

	exhaustedRadius, err := meter.Int64Counter(
		"geofeed.radius.exhausted",
		metric.WithDescription("Empty results at the largest radius preset"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	return &FeedMetrics{
		queriesIssued:   queriesIssued,
		queriesSettled:  queriesSettled,
		queryDuration:   queryDuration,
		resultSize:      resultSize,
		escalations:     escalations,
		exhaustedRadius: exhaustedRadius,
	}, nil
}

// QueryIssued records a query leaving the scheduler.
func (m *FeedMetrics) QueryIssued(debounced bool) {
	m.queriesIssued.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.Bool("debounced", debounced),
	))
}

// QueryResolved records the latest query being applied.
func (m *FeedMetrics) QueryResolved(d time.Duration, count int) {
	ctx := context.TODO()
	m.settled(query.OutcomeResolved)
	m.queryDuration.Record(ctx, d.Seconds())
	m.resultSize.Record(ctx, int64(count))
}

// QueryDiscarded records a superseded query that still answered.
func (m *FeedMetrics) QueryDiscarded() {
	m.settled(query.OutcomeDiscarded)
}

// QueryCancelled records a superseded query that was cancelled in flight.
func (m *FeedMetrics) QueryCancelled() {
	m.settled(query.OutcomeCancelled)
}

// QueryFailed records a failed latest query.
func (m *FeedMetrics) QueryFailed() {
	m.settled(query.OutcomeFailed)
}

// RadiusEscalated records an automatic escalation.
func (m *FeedMetrics) RadiusEscalated(fromKm, toKm float64) {
	m.escalations.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.Float64("radius.from_km", fromKm),
		attribute.Float64("radius.to_km", toKm),
	))
}

// RadiusExhausted records an empty result at the largest preset.
func (m *FeedMetrics) RadiusExhausted(radiusKm float64) {
	m.exhaustedRadius.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.Float64("radius.km", radiusKm),
	))
}

func (m *FeedMetrics) settled(outcome string) {
	m.queriesSettled.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
