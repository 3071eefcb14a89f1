package query_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/query"
)

var minsk = geo.Coordinates{Lat: 53.9, Lng: 27.5667}

// mockFetcher records calls and answers through respond.
type mockFetcher struct {
	mu      sync.Mutex
	calls   []listing.Query
	respond func(ctx context.Context, q listing.Query) ([]listing.Summary, error)
}

func (m *mockFetcher) Nearby(ctx context.Context, q listing.Query) ([]listing.Summary, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	respond := m.respond
	m.mu.Unlock()

	if respond == nil {
		return []listing.Summary{{ID: "default"}}, nil
	}
	return respond(ctx, q)
}

func (m *mockFetcher) getCalls() []listing.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]listing.Query(nil), m.calls...)
}

// resultLog collects OnResult deliveries.
type resultLog struct {
	mu      sync.Mutex
	results []query.Result
}

func (l *resultLog) add(r query.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultLog) get() []query.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]query.Result(nil), l.results...)
}

func newScheduler(f query.Fetcher, log *resultLog, debounce time.Duration) *query.Scheduler {
	return query.New(query.Config{
		Fetcher:  f,
		Debounce: debounce,
		OnResult: log.add,
		Logger:   zerolog.Nop(),
	})
}

func params(radius float64) listing.Query {
	return listing.Query{Center: minsk, RadiusKm: radius}
}

func TestScheduler_Query_AppliesResult(t *testing.T) {
	f := &mockFetcher{}
	log := &resultLog{}
	s := newScheduler(f, log, 0)

	epoch := s.Query(params(5))
	assert.Equal(t, query.Epoch(1), epoch)

	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)

	res := log.get()[0]
	assert.Equal(t, epoch, res.Epoch)
	assert.Equal(t, 5.0, res.Params.RadiusKm)
	assert.False(t, res.Empty)
	assert.NoError(t, res.Err)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, epoch, snap.ResolvedEpoch)
	require.Len(t, snap.Listings, 1)
	assert.Equal(t, "default", snap.Listings[0].ID)
}

func TestScheduler_Query_EmptyResult(t *testing.T) {
	f := &mockFetcher{respond: func(context.Context, listing.Query) ([]listing.Summary, error) {
		return nil, nil
	}}
	log := &resultLog{}
	s := newScheduler(f, log, 0)

	s.Query(params(1))
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, log.get()[0].Empty)
	assert.NotNil(t, s.Snapshot().Listings)
	assert.Empty(t, s.Snapshot().Listings)
}

func TestScheduler_LatestWins(t *testing.T) {
	releaseSlow := make(chan struct{})
	f := &mockFetcher{respond: func(_ context.Context, q listing.Query) ([]listing.Summary, error) {
		if q.RadiusKm == 1 {
			// Ignores cancellation and answers late.
			<-releaseSlow
			return []listing.Summary{{ID: "stale"}}, nil
		}
		return []listing.Summary{{ID: "fresh"}}, nil
	}}
	log := &resultLog{}
	s := newScheduler(f, log, 0)

	first := s.Query(params(1))
	require.Eventually(t, func() bool { return len(f.getCalls()) == 1 }, time.Second, 5*time.Millisecond)
	second := s.Query(params(3))
	assert.Greater(t, second, first)

	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)
	close(releaseSlow)
	time.Sleep(30 * time.Millisecond)

	results := log.get()
	require.Len(t, results, 1)
	assert.Equal(t, second, results[0].Epoch)

	snap := s.Snapshot()
	require.Len(t, snap.Listings, 1)
	assert.Equal(t, "fresh", snap.Listings[0].ID)
	assert.False(t, s.IsLatest(first))
	assert.True(t, s.IsLatest(second))
}

func TestScheduler_SupersededQueryIsCancelled(t *testing.T) {
	cancelled := make(chan struct{})
	f := &mockFetcher{respond: func(ctx context.Context, q listing.Query) ([]listing.Summary, error) {
		if q.RadiusKm == 1 {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return []listing.Summary{{ID: "fresh"}}, nil
	}}
	log := &resultLog{}
	s := newScheduler(f, log, 0)

	s.Query(params(1))
	require.Eventually(t, func() bool { return len(f.getCalls()) == 1 }, time.Second, 5*time.Millisecond)
	s.Query(params(3))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded query was not cancelled")
	}

	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// The cancellation is never reported, as an error or otherwise.
	results := log.get()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, s.Snapshot().Err)
}

func TestScheduler_Debounce_CoalescesMoves(t *testing.T) {
	f := &mockFetcher{}
	log := &resultLog{}
	s := newScheduler(f, log, 100*time.Millisecond)

	// Three moves within 200ms, each before the window closes.
	var last query.Epoch
	for i := 0; i < 3; i++ {
		q := listing.Query{Center: geo.Coordinates{Lat: 53.9 + float64(i)*0.01, Lng: 27.5667}, RadiusKm: 5}
		last = s.QueryDebounced(q)
		time.Sleep(40 * time.Millisecond)
	}
	assert.Equal(t, query.Epoch(3), last)
	assert.Empty(t, f.getCalls())
	assert.True(t, s.Snapshot().Loading)

	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	calls := f.getCalls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 53.92, calls[0].Center.Lat, 1e-9)
	assert.Equal(t, last, log.get()[0].Epoch)
}

func TestScheduler_ImmediateQueryCancelsPendingDebounce(t *testing.T) {
	f := &mockFetcher{}
	log := &resultLog{}
	s := newScheduler(f, log, 50*time.Millisecond)

	s.QueryDebounced(params(1))
	s.Query(params(10))

	time.Sleep(120 * time.Millisecond)

	calls := f.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 10.0, calls[0].RadiusKm)
	assert.Len(t, log.get(), 1)
}

func TestScheduler_FailureKeepsListingsAndRetry(t *testing.T) {
	var mu sync.Mutex
	fail := false
	f := &mockFetcher{respond: func(context.Context, listing.Query) ([]listing.Summary, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("upstream unavailable")
		}
		return []listing.Summary{{ID: "kept"}}, nil
	}}
	log := &resultLog{}
	s := newScheduler(f, log, 0)

	s.Query(params(5))
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	fail = true
	mu.Unlock()

	s.Query(params(10))
	require.Eventually(t, func() bool { return len(log.get()) == 2 }, time.Second, 5*time.Millisecond)

	failed := log.get()[1]
	assert.Error(t, failed.Err)
	require.Len(t, failed.Listings, 1)
	assert.Equal(t, "kept", failed.Listings[0].ID)

	snap := s.Snapshot()
	assert.Error(t, snap.Err)
	require.Len(t, snap.Listings, 1)
	assert.Equal(t, "kept", snap.Listings[0].ID)

	mu.Lock()
	fail = false
	mu.Unlock()

	epoch, ok := s.Retry()
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(log.get()) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, epoch, log.get()[2].Epoch)
	assert.Equal(t, 10.0, log.get()[2].Params.RadiusKm)
	assert.NoError(t, s.Snapshot().Err)
}

func TestScheduler_RetryWithoutQuery(t *testing.T) {
	s := newScheduler(&mockFetcher{}, &resultLog{}, 0)

	_, ok := s.Retry()
	assert.False(t, ok)
}

func TestScheduler_Cancel(t *testing.T) {
	f := &mockFetcher{}
	log := &resultLog{}
	s := newScheduler(f, log, 30*time.Millisecond)

	epoch := s.QueryDebounced(params(5))
	s.Cancel()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, f.getCalls())
	assert.Empty(t, log.get())
	assert.False(t, s.IsLatest(epoch))
	assert.False(t, s.Snapshot().Loading)
}

func TestScheduler_EpochsAreMonotonic(t *testing.T) {
	s := newScheduler(&mockFetcher{}, &resultLog{}, time.Hour)

	var prev query.Epoch
	for i := 0; i < 5; i++ {
		var e query.Epoch
		if i%2 == 0 {
			e = s.QueryDebounced(params(1))
		} else {
			e = s.Query(params(1))
		}
		assert.Greater(t, e, prev)
		prev = e
	}
	s.Cancel()
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestScheduler_TracesEachFetch(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	f := &mockFetcher{respond: func(ctx context.Context, q listing.Query) ([]listing.Summary, error) {
		switch q.RadiusKm {
		case 1:
			<-ctx.Done()
			return nil, ctx.Err()
		case 5:
			return nil, errors.New("upstream 502")
		default:
			return []listing.Summary{{ID: "a"}}, nil
		}
	}}
	log := &resultLog{}
	s := query.New(query.Config{
		Fetcher:  f,
		Debounce: 20 * time.Millisecond,
		OnResult: log.add,
		Tracer:   tp.Tracer("test"),
		Logger:   zerolog.Nop(),
	})

	s.Query(params(1))
	require.Eventually(t, func() bool { return len(f.getCalls()) == 1 }, time.Second, 5*time.Millisecond)
	s.Query(params(3))
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)
	s.QueryDebounced(params(5))
	require.Eventually(t, func() bool { return len(sr.Ended()) == 3 }, time.Second, 5*time.Millisecond)

	byRadius := make(map[float64]sdktrace.ReadOnlySpan)
	for _, span := range sr.Ended() {
		assert.Equal(t, "nearby.query", span.Name())
		byRadius[spanAttr(span, "query.radius_km").AsFloat64()] = span
	}
	require.Len(t, byRadius, 3)

	assert.Equal(t, query.OutcomeCancelled, spanAttr(byRadius[1], "query.outcome").AsString())

	resolved := byRadius[3]
	assert.Equal(t, query.OutcomeResolved, spanAttr(resolved, "query.outcome").AsString())
	assert.Equal(t, int64(1), spanAttr(resolved, "query.result_count").AsInt64())
	assert.False(t, spanAttr(resolved, "query.debounced").AsBool())
	assert.Equal(t, codes.Unset, resolved.Status().Code)

	failed := byRadius[5]
	assert.Equal(t, query.OutcomeFailed, spanAttr(failed, "query.outcome").AsString())
	assert.True(t, spanAttr(failed, "query.debounced").AsBool())
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "upstream 502", failed.Status().Description)
}
