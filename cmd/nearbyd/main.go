// Package main provides nearbyd, the development server answering the
// nearby listing queries the feed issues.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/api"
	"github.com/geofeed/geofeed/internal/api/handler"
	"github.com/geofeed/geofeed/internal/api/middleware"
	"github.com/geofeed/geofeed/internal/config"
	"github.com/geofeed/geofeed/internal/database"
	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "nearbyd"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("nearbyd failed")
	}
}

func run(log zerolog.Logger) error {
	log.Info().Str("build_time", BuildTime).Msg("starting nearby dev server")

	cfg, err := config.Load(serviceName)
	if err != nil {
		return err
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  Version,
		Environment:     cfg.Environment,
		Role:            telemetry.RoleServer,
		ListingsBackend: cfg.Listings.Backend,
		OTLPEndpoint:    cfg.Telemetry.OTLPEndpoint,
		Enabled:         cfg.Telemetry.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}
	cacheMetrics, err := telemetry.NewCacheMetrics()
	if err != nil {
		return err
	}

	var (
		repo   listing.Repository
		checks []handler.Check
	)

	seed := listing.DemoListings(
		cfg.Listings.Seed,
		cfg.Feed.DefaultLocation(),
		cfg.Listings.SeedRadiusKm,
		uint64(time.Now().UnixNano()),
		time.Now(),
	)

	switch cfg.Listings.Backend {
	case config.BackendPostgres:
		dbConfig := cfg.Database.Pool()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			return err
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		pg := listing.NewPostgresRepository(pool)
		for _, s := range seed {
			if err := pg.Insert(ctx, s); err != nil {
				return err
			}
		}
		repo = pg
		checks = append(checks, handler.Check{Name: "database", Ping: pg.Ping})

	default:
		mem := listing.NewInMemoryRepository()
		for _, s := range seed {
			mem.Add(s)
		}
		repo = mem
	}
	log.Info().
		Str("backend", cfg.Listings.Backend).
		Int("seeded", len(seed)).
		Msg("listing repository ready")

	var cache listing.Cache = listing.NewMemoryCache()
	if cfg.Valkey.Enabled {
		vc, err := listing.NewValkeyCache(cfg.Valkey.Addr, cfg.Valkey.Prefix)
		if err != nil {
			return err
		}
		defer vc.Close()
		cache = vc
		checks = append(checks, handler.Check{Name: "valkey", Ping: vc.Ping})
		log.Info().Str("addr", cfg.Valkey.Addr).Msg("valkey cache connected")
	}

	service := listing.NewService(listing.ServiceConfig{
		Repository: repo,
		Cache:      cache,
		CacheTTL:   cfg.Listings.CacheTTL,
		Limit:      cfg.Listings.Limit,
		Metrics:    cacheMetrics,
		Logger:     log,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: cfg.Telemetry.ServiceName,
		Metrics:     metrics,
		Search:      service,
		Listings:    repo,
		Checks:      checks,
		RateLimit:   cfg.Server.RateLimit,
		RequireTLS:  cfg.Server.RequireTLS,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
