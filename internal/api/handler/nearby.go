package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/api/middleware"
	"github.com/geofeed/geofeed/internal/api/models"
	"github.com/geofeed/geofeed/internal/api/response"
	"github.com/geofeed/geofeed/internal/geo"
	"github.com/geofeed/geofeed/internal/listing"
)

// MaxRadiusKm is the largest radius the server accepts.
const MaxRadiusKm = 200

// NearbySearcher answers nearby searches. *listing.Service satisfies it.
type NearbySearcher interface {
	Nearby(ctx context.Context, q listing.Query) ([]listing.Summary, error)
}

// ListingGetter loads a single listing. listing.Repository satisfies it.
type ListingGetter interface {
	Get(ctx context.Context, id string) (*listing.Summary, error)
}

// NearbyHandler serves the nearby search and listing lookups.
type NearbyHandler struct {
	search  NearbySearcher
	listing ListingGetter
	logger  zerolog.Logger
}

// NewNearbyHandler creates a NearbyHandler.
func NewNearbyHandler(search NearbySearcher, getter ListingGetter, logger zerolog.Logger) *NearbyHandler {
	return &NearbyHandler{
		search:  search,
		listing: getter,
		logger:  logger,
	}
}

// Nearby handles GET /nearby?lat=&lng=&radiusKm=&q=&categoryId=&envelope=.
func (h *NearbyHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q, envelope, fieldErrors := parseNearby(r)
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid nearby query", fieldErrors)
		return
	}

	items, err := h.search.Nearby(r.Context(), q)
	if err != nil {
		if errors.Is(err, listing.ErrInvalidQuery) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		if r.Context().Err() != nil {
			// Client went away; nothing useful can be written.
			return
		}
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Float64("lat", q.Center.Lat).
			Float64("lng", q.Center.Lng).
			Float64("radius_km", q.RadiusKm).
			Msg("nearby search failed")
		response.InternalError(w, r, "nearby search failed")
		return
	}
	if items == nil {
		items = []listing.Summary{}
	}

	if envelope == models.EnvelopeAds {
		response.JSON(w, r, http.StatusOK, models.AdsResponse{Data: models.AdsData{Ads: items}})
		return
	}
	response.JSON(w, r, http.StatusOK, models.NearbyResponse{
		Items: items,
		Meta: models.NearbyMeta{
			Lat:        q.Center.Lat,
			Lng:        q.Center.Lng,
			RadiusKm:   q.RadiusKm,
			Count:      len(items),
			Text:       q.Text,
			CategoryID: q.CategoryID,
		},
	})
}

// Listing handles GET /listings/{id}.
func (h *NearbyHandler) Listing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.listing.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			response.NotFound(w, r, "listing not found")
			return
		}
		h.logger.Error().Err(err).Str("listing_id", id).Msg("listing lookup failed")
		response.InternalError(w, r, "listing lookup failed")
		return
	}
	response.JSON(w, r, http.StatusOK, s)
}

func parseNearby(r *http.Request) (listing.Query, string, []models.FieldError) {
	values := r.URL.Query()
	var errs []models.FieldError

	lat, err := parseFloat(values.Get("lat"))
	switch {
	case err != nil:
		errs = append(errs, fieldError("lat", err))
	case lat < -90 || lat > 90:
		errs = append(errs, models.FieldError{Field: "lat", Message: "must be between -90 and 90", Code: models.CodeOutOfRange})
	}

	lng, err := parseFloat(values.Get("lng"))
	switch {
	case err != nil:
		errs = append(errs, fieldError("lng", err))
	case lng < -180 || lng > 180:
		errs = append(errs, models.FieldError{Field: "lng", Message: "must be between -180 and 180", Code: models.CodeOutOfRange})
	}

	radius, err := parseFloat(values.Get("radiusKm"))
	switch {
	case err != nil:
		errs = append(errs, fieldError("radiusKm", err))
	case radius <= 0 || radius > MaxRadiusKm:
		errs = append(errs, models.FieldError{
			Field:   "radiusKm",
			Message: "must be greater than 0 and at most " + strconv.Itoa(MaxRadiusKm),
			Code:    models.CodeOutOfRange,
		})
	}

	envelope := values.Get("envelope")
	switch envelope {
	case "", models.EnvelopeItems, models.EnvelopeAds:
	default:
		errs = append(errs, models.FieldError{Field: "envelope", Message: "must be items or ads", Code: models.CodeInvalid})
	}

	return listing.Query{
		Center:     geo.Coordinates{Lat: lat, Lng: lng},
		RadiusKm:   radius,
		Text:       strings.TrimSpace(values.Get("q")),
		CategoryID: strings.TrimSpace(values.Get("categoryId")),
	}, envelope, errs
}

var errRequired = errors.New("is required")

func parseFloat(raw string) (float64, error) {
	if raw == "" {
		return 0, errRequired
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}

func fieldError(field string, err error) models.FieldError {
	if errors.Is(err, errRequired) {
		return models.FieldError{Field: field, Message: "is required", Code: models.CodeRequired}
	}
	return models.FieldError{Field: field, Message: "must be a number", Code: models.CodeInvalid}
}
