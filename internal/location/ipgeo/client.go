// Package ipgeo provides a position source backed by an ip-api.com style
// IP geolocation service.
package ipgeo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/location"
	"github.com/geofeed/geofeed/internal/provider/resilience"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "ipgeo"

	// DefaultBaseURL is the ip-api.com JSON endpoint.
	DefaultBaseURL = "http://ip-api.com/json"
)

// ClientConfig holds configuration for the IP geolocation client.
type ClientConfig struct {
	// BaseURL is the lookup endpoint (optional, defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Timeout for individual requests (default: 3s).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client resolves the caller's approximate position from its public IP.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new IP geolocation client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Timeout = 3 * time.Second
		if cfg.Timeout > 0 {
			rc.Timeout = cfg.Timeout
		}
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// API response types (ip-api.com).

type lookupResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
	Country string  `json:"country"`
}

// Lookup failures that mean the service will never locate this caller.
var deniedMessages = []string{"private range", "reserved range"}

// CurrentPosition implements location.PositionSource.
func (c *Client) CurrentPosition(ctx context.Context) (location.Position, error) {
	var resp lookupResponse
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"?fields=status,message,lat,lon,city,country", &resp); err != nil {
		if ctx.Err() != nil {
			return location.Position{}, ctx.Err()
		}
		return location.Position{}, fmt.Errorf("%w: ip lookup: %w", location.ErrUnavailable, err)
	}

	if resp.Status != "success" {
		for _, m := range deniedMessages {
			if resp.Message == m {
				return location.Position{}, fmt.Errorf("%w: %s", location.ErrPermissionDenied, resp.Message)
			}
		}
		return location.Position{}, fmt.Errorf("%w: ip lookup: %s", location.ErrUnavailable, resp.Message)
	}

	coords := geo.Coordinates{Lat: resp.Lat, Lng: resp.Lon}
	if err := coords.Validate(); err != nil {
		return location.Position{}, fmt.Errorf("%w: %w", location.ErrUnavailable, err)
	}

	c.logger.Debug().
		Str("city", resp.City).
		Str("country", resp.Country).
		Msg("resolved position from ip")

	return location.Position{Coordinates: coords, City: resp.City}, nil
}

// Ensure Client implements location.PositionSource.
var _ location.PositionSource = (*Client)(nil)
