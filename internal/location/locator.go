package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/store"
)

// DefaultTimeout bounds a single acquisition.
const DefaultTimeout = 10 * time.Second

const flightKey = "locate"

// LocatorConfig holds configuration for the Locator.
type LocatorConfig struct {
	// Source produces position fixes (required).
	Source PositionSource

	// Store receives status transitions and the acquired coordinates (required).
	Store *store.Store

	// Timeout bounds each acquisition (default: 10 seconds).
	Timeout time.Duration

	// Logger for locator operations.
	Logger zerolog.Logger
}

// Locator requests the device position and records the outcome in the store.
// Concurrent requests share one acquisition.
type Locator struct {
	source  PositionSource
	store   *store.Store
	timeout time.Duration
	logger  zerolog.Logger

	// mu orders joining a flight against its settlement: a request either
	// joins before the flight is forgotten or starts a new one.
	mu    sync.Mutex
	group singleflight.Group
}

// NewLocator creates a new Locator.
func NewLocator(cfg LocatorConfig) *Locator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Locator{
		source:  cfg.Source,
		store:   cfg.Store,
		timeout: timeout,
		logger:  cfg.Logger,
	}
}

// Request acquires the current position.
//
// The store moves to loading before Request returns or blocks. On success the
// coordinates (and city, when known) are committed and the store becomes ready;
// on failure the store records the error and keeps its coordinates. A call made
// while an acquisition is in flight waits for that acquisition instead of
// starting another one.
//
// Cancelling ctx only stops this caller from waiting; the acquisition still
// settles the store.
func (l *Locator) Request(ctx context.Context) (geo.Coordinates, error) {
	l.mu.Lock()
	if l.store.BeginLocate() {
		l.logger.Debug().Msg("location request started")
	}
	ch := l.group.DoChan(flightKey, func() (interface{}, error) {
		return l.acquire(context.WithoutCancel(ctx))
	})
	l.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return geo.Coordinates{}, res.Err
		}
		return res.Val.(geo.Coordinates), nil
	case <-ctx.Done():
		return geo.Coordinates{}, ctx.Err()
	}
}

func (l *Locator) acquire(ctx context.Context) (geo.Coordinates, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	// No-op when Request already moved the store to loading.
	l.store.BeginLocate()

	start := time.Now()
	pos, err := l.source.CurrentPosition(ctx)
	if err == nil {
		err = pos.Coordinates.Validate()
	}

	// Requests from here on start a new acquisition; the store is committed
	// outside l.mu so subscribers may call Request.
	l.mu.Lock()
	l.group.Forget(flightKey)
	l.mu.Unlock()

	if err == nil {
		err = l.store.CompleteLocate(pos.Coordinates, pos.City)
		if errors.Is(err, store.ErrNotLoading) {
			// The store was reset or given a location while we waited.
			l.logger.Debug().Msg("discarding location fix for a settled store")
			return pos.Coordinates, nil
		}
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = ErrTimeout
		}
		err = ClassifyError(err)

		l.logger.Warn().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("location request failed")

		if ferr := l.store.FailLocate(err); ferr != nil {
			l.logger.Debug().Err(ferr).Msg("location failure not recorded")
		}
		return geo.Coordinates{}, err
	}

	l.logger.Info().
		Float64("lat", pos.Coordinates.Lat).
		Float64("lng", pos.Coordinates.Lng).
		Str("city", pos.City).
		Dur("duration", time.Since(start)).
		Msg("location acquired")

	return pos.Coordinates, nil
}
