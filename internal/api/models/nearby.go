package models

import (
	"github.com/geofeed/geofeed/internal/listing"
)

// Envelope names accepted by GET /nearby?envelope=.
const (
	EnvelopeItems = "items"
	EnvelopeAds   = "ads"
)

// NearbyResponse is the default envelope of GET /nearby.
type NearbyResponse struct {
	Items []listing.Summary `json:"items"`
	Meta  NearbyMeta        `json:"meta"`
}

// NearbyMeta echoes the normalized search so clients can detect stale answers.
type NearbyMeta struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	RadiusKm   float64 `json:"radiusKm"`
	Count      int     `json:"count"`
	Text       string  `json:"q,omitempty"`
	CategoryID string  `json:"categoryId,omitempty"`
}

// AdsResponse is the legacy {"data":{"ads":[...]}} envelope.
type AdsResponse struct {
	Data AdsData `json:"data"`
}

// AdsData wraps the listing array of AdsResponse.
type AdsData struct {
	Ads []listing.Summary `json:"ads"`
}
