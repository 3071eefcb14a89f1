// Package nearbyhttp provides a client for the GET /nearby listings endpoint.
package nearbyhttp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/listing"
	"github.com/geofeed/geofeed/internal/provider/resilience"
)

// ProviderName identifies this client in logs and breaker state.
const ProviderName = "nearby"

// ErrUnexpectedEnvelope is returned when a response carries neither known envelope.
var ErrUnexpectedEnvelope = errors.New("unexpected nearby response envelope")

// ClientConfig holds configuration for the nearby client.
type ClientConfig struct {
	// BaseURL is the API base URL, e.g. "http://localhost:8080".
	BaseURL string

	// HTTPClient is the resilient client to use.
	// If nil, a default resilient client will be created.
	HTTPClient *resilience.Client

	// Timeout for individual requests (default: 5s).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client fetches nearby listings over HTTP.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new nearby client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		if cfg.Timeout > 0 {
			rc.Timeout = cfg.Timeout
		}
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Both envelopes the endpoint is known to answer with.
type nearbyResponse struct {
	Items []listing.Summary `json:"items"`
	Data  *struct {
		Ads []listing.Summary `json:"ads"`
	} `json:"data"`
}

func (r nearbyResponse) listings() ([]listing.Summary, error) {
	switch {
	case r.Items != nil:
		return r.Items, nil
	case r.Data != nil && r.Data.Ads != nil:
		return r.Data.Ads, nil
	default:
		return nil, ErrUnexpectedEnvelope
	}
}

// Nearby fetches listings within q.RadiusKm of q.Center.
// Listings are ranked by distance (computed from the query center when the
// server omits it), then newest first.
func (c *Client) Nearby(ctx context.Context, q listing.Query) ([]listing.Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	var resp nearbyResponse
	if err := c.httpClient.GetJSON(ctx, c.URL(q), &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch nearby listings: %w", err)
	}

	items, err := resp.listings()
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("center", q.Center.String()).
		Float64("radius_km", q.RadiusKm).
		Int("count", len(items)).
		Dur("duration", time.Since(start)).
		Msg("fetched nearby listings")

	return listing.Rank(items, q.Center), nil
}

// URL builds the request URL for q.
func (c *Client) URL(q listing.Query) string {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(q.Center.Lat, 'f', -1, 64))
	params.Set("lng", strconv.FormatFloat(q.Center.Lng, 'f', -1, 64))
	params.Set("radiusKm", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	if text := strings.TrimSpace(q.Text); text != "" {
		params.Set("q", text)
	}
	if q.CategoryID != "" {
		params.Set("categoryId", q.CategoryID)
	}
	return c.baseURL + "/nearby?" + params.Encode()
}
