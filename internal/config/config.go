// Package config loads geofeed configuration from defaults, an optional
// config.yaml and GEOFEED_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/geofeed/geofeed/internal/database"
	"github.com/geofeed/geofeed/internal/geo"
)

// Listing backends for the dev server.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Listings    ListingsConfig  `mapstructure:"listings"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Valkey      ValkeyConfig    `mapstructure:"valkey"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Feed        FeedConfig      `mapstructure:"feed"`
	IPGeo       IPGeoConfig     `mapstructure:"ipgeo"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RateLimit is the number of requests per minute allowed per client IP.
	RateLimit  int  `mapstructure:"rate_limit"`
	RequireTLS bool `mapstructure:"require_tls"`
}

// ListingsConfig selects where the dev server reads listings from.
type ListingsConfig struct {
	Backend  string        `mapstructure:"backend"`
	Limit    int           `mapstructure:"limit"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// Seed is the number of demo listings generated around the feed default
	// location at startup. Zero disables seeding.
	Seed         int     `mapstructure:"seed"`
	SeedRadiusKm float64 `mapstructure:"seed_radius_km"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Pool returns the connection settings understood by database.Connect.
func (d DatabaseConfig) Pool() database.Config {
	return database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.DBName,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

type ValkeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Prefix  string `mapstructure:"prefix"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Enabled      bool   `mapstructure:"enabled"`
}

// FeedConfig configures the feed core driven by feedctl.
type FeedConfig struct {
	NearbyURL       string        `mapstructure:"nearby_url"`
	Debounce        time.Duration `mapstructure:"debounce"`
	Presets         []float64     `mapstructure:"presets"`
	DefaultRadiusKm float64       `mapstructure:"default_radius_km"`
	DefaultLat      float64       `mapstructure:"default_lat"`
	DefaultLng      float64       `mapstructure:"default_lng"`
	LocationTimeout time.Duration `mapstructure:"location_timeout"`
	SmartRadius     bool          `mapstructure:"smart_radius"`
}

// DefaultLocation returns the configured fallback location.
func (f FeedConfig) DefaultLocation() geo.Coordinates {
	return geo.Coordinates{Lat: f.DefaultLat, Lng: f.DefaultLng}
}

type IPGeoConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("server.require_tls", false)
	v.SetDefault("listings.backend", BackendMemory)
	v.SetDefault("listings.limit", 100)
	v.SetDefault("listings.cache_ttl", "30s")
	v.SetDefault("listings.seed", 200)
	v.SetDefault("listings.seed_radius_km", 20)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "geofeed")
	v.SetDefault("database.password", "localdev")
	v.SetDefault("database.dbname", "geofeed")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("valkey.enabled", false)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.prefix", "geofeed:")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("feed.nearby_url", "http://localhost:8080")
	v.SetDefault("feed.debounce", "400ms")
	v.SetDefault("feed.presets", []float64(geo.DefaultPresets()))
	v.SetDefault("feed.default_radius_km", geo.DefaultRadiusKm)
	v.SetDefault("feed.default_lat", geo.DefaultLocation.Lat)
	v.SetDefault("feed.default_lng", geo.DefaultLocation.Lng)
	v.SetDefault("feed.location_timeout", "10s")
	v.SetDefault("feed.smart_radius", true)
	v.SetDefault("ipgeo.enabled", true)
	v.SetDefault("ipgeo.base_url", "http://ip-api.com/json")
	v.SetDefault("ipgeo.timeout", "3s")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GEOFEED_DATABASE_HOST → database.host
	v.SetEnvPrefix("GEOFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Listings.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("listings.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Listings.Backend))
	}

	if c.Listings.Seed < 0 {
		errs = append(errs, "listings.seed must not be negative")
	}
	if c.Listings.Seed > 0 && c.Listings.SeedRadiusKm <= 0 {
		errs = append(errs, "listings.seed_radius_km must be positive when seeding")
	}

	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required when valkey is enabled")
	}

	if c.Feed.NearbyURL == "" {
		errs = append(errs, "feed.nearby_url is required")
	}
	if c.Feed.Debounce <= 0 {
		errs = append(errs, "feed.debounce must be positive")
	}
	if _, err := geo.NewPresets(c.Feed.Presets); err != nil {
		errs = append(errs, fmt.Sprintf("feed.presets: %v", err))
	}
	if c.Feed.DefaultRadiusKm <= 0 {
		errs = append(errs, "feed.default_radius_km must be positive")
	}
	if err := c.Feed.DefaultLocation().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("feed default location: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
