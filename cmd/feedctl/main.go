// Package main provides feedctl, a headless driver for the nearby feed.
// It reads commands from stdin and prints state transitions as they happen.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/geofeed/geofeed/internal/config"
	"github.com/geofeed/geofeed/internal/feed"
	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/listing/nearbyhttp"
	"github.com/geofeed/geofeed/internal/location"
	"github.com/geofeed/geofeed/internal/location/ipgeo"
	"github.com/geofeed/geofeed/internal/query"
	"github.com/geofeed/geofeed/internal/store"
	"github.com/geofeed/geofeed/internal/telemetry"
)

// Location sources selectable with --locate.
const (
	locateIPGeo  = "ipgeo"
	locateStatic = "static"
	locateDenied = "denied"
)

const serviceName = "feedctl"

type options struct {
	nearbyURL string
	inProcess bool
	locate    string
	lat, lng  float64
	verbose   bool
}

func main() {
	var opts options
	pflag.StringVar(&opts.nearbyURL, "nearby-url", "", "base URL of the nearby API (overrides feed.nearby_url)")
	pflag.BoolVar(&opts.inProcess, "in-process", false, "search seeded demo listings in-process instead of over HTTP")
	pflag.StringVar(&opts.locate, "locate", locateIPGeo, "location source: ipgeo, static or denied")
	pflag.Float64Var(&opts.lat, "lat", geo.DefaultLocation.Lat, "latitude for --locate=static")
	pflag.Float64Var(&opts.lng, "lng", geo.DefaultLocation.Lng, "longitude for --locate=static")
	pflag.BoolVarP(&opts.verbose, "verbose", "v", false, "log feed internals to stderr")
	pflag.Parse()

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	if err := run(opts, os.Stdin, os.Stdout, log); err != nil {
		log.Fatal().Err(err).Msg("feedctl failed")
	}
}

func run(opts options, in io.Reader, w io.Writer, log zerolog.Logger) error {
	// Feed callbacks print from query and location goroutines.
	out := &syncWriter{w: w}

	cfg, err := config.Load(serviceName)
	if err != nil {
		return err
	}
	if opts.nearbyURL != "" {
		cfg.Feed.NearbyURL = opts.nearbyURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:     serviceName,
		ServiceVersion:  "dev",
		Environment:     cfg.Environment,
		Role:            telemetry.RoleClient,
		ListingsBackend: backendName(cfg, opts),
		OTLPEndpoint:    cfg.Telemetry.OTLPEndpoint,
		Enabled:         cfg.Telemetry.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	metrics, err := telemetry.NewFeedMetrics()
	if err != nil {
		return err
	}

	fetcher, err := newFetcher(cfg, opts, log)
	if err != nil {
		return err
	}
	source, err := newSource(cfg, opts, log)
	if err != nil {
		return err
	}
	presets, err := geo.NewPresets(cfg.Feed.Presets)
	if err != nil {
		return err
	}

	f, err := feed.New(feed.Config{
		Fetcher:         fetcher,
		Source:          source,
		Presets:         presets,
		DefaultRadiusKm: cfg.Feed.DefaultRadiusKm,
		SmartRadius:     cfg.Feed.SmartRadius,
		DefaultLocation: cfg.Feed.DefaultLocation(),
		Debounce:        cfg.Feed.Debounce,
		LocationTimeout: cfg.Feed.LocationTimeout,
		Notifier: feed.NotifierFunc(func(m feed.Message) {
			fmt.Fprintf(out, "» %s\n", m.Text)
		}),
		Map:     mapPrinter{out: out},
		Metrics: metrics,
		Tracer:  telemetry.FeedTracer(),
		Logger:  log,
	})
	if err != nil {
		return err
	}
	defer f.Close()

	unsubscribe := f.Store().Subscribe(func(s store.Snapshot) {
		fmt.Fprintf(out, "~ geo v%d: %s radius=%s smart=%t\n",
			s.Version, s.Status, geo.FormatRadius(s.RadiusKm), s.SmartRadius)
	})
	defer unsubscribe()

	fmt.Fprintln(out, "feedctl ready, type help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := execute(ctx, f, line, out); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func backendName(cfg *config.Config, opts options) string {
	if opts.inProcess {
		return config.BackendMemory
	}
	return cfg.Feed.NearbyURL
}

func newFetcher(cfg *config.Config, opts options, log zerolog.Logger) (query.Fetcher, error) {
	if opts.inProcess {
		repo := listing.NewInMemoryRepository()
		for _, s := range listing.DemoListings(cfg.Listings.Seed, cfg.Feed.DefaultLocation(), cfg.Listings.SeedRadiusKm, 1, time.Now()) {
			repo.Add(s)
		}
		return listing.NewService(listing.ServiceConfig{
			Repository: repo,
			Cache:      listing.NewMemoryCache(),
			CacheTTL:   cfg.Listings.CacheTTL,
			Limit:      cfg.Listings.Limit,
			Logger:     log,
		}), nil
	}

	return nearbyhttp.NewClient(nearbyhttp.ClientConfig{
		BaseURL: cfg.Feed.NearbyURL,
		Logger:  log,
	}), nil
}

func newSource(cfg *config.Config, opts options, log zerolog.Logger) (location.PositionSource, error) {
	switch opts.locate {
	case locateIPGeo:
		if !cfg.IPGeo.Enabled {
			return nil, errors.New("ipgeo is disabled in config; use --locate=static")
		}
		return ipgeo.NewClient(ipgeo.ClientConfig{
			BaseURL: cfg.IPGeo.BaseURL,
			Timeout: cfg.IPGeo.Timeout,
			Logger:  log,
		}), nil
	case locateStatic:
		c := geo.Coordinates{Lat: opts.lat, Lng: opts.lng}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return location.NewStaticSource(c, ""), nil
	case locateDenied:
		return location.SourceFunc(func(context.Context) (location.Position, error) {
			return location.Position{}, location.ErrPermissionDenied
		}), nil
	default:
		return nil, fmt.Errorf("unknown --locate %q", opts.locate)
	}
}

// mapPrinter stands in for the map view.
type mapPrinter struct {
	out io.Writer
}

func (m mapPrinter) FocusListing(id string) {
	fmt.Fprintf(m.out, "~ map focus %s\n", id)
}

// syncWriter serialises writes so concurrent lines never interleave.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
