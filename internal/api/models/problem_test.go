package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofeed/geofeed/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "Validation error", http.StatusBadRequest, "req_1").
		WithDetail("lat must be between -90 and 90").
		WithInstance("/nearby").
		WithErrors([]models.FieldError{{Field: "lat", Message: "out of range", Code: models.CodeOutOfRange}})

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "lat must be between -90 and 90", p.Detail)
	assert.Equal(t, "/nearby", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "lat", p.Errors[0].Field)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_test123", "invalid nearby query", []models.FieldError{
		{Field: "radiusKm", Message: "must be positive", Code: models.CodeOutOfRange},
	})
	p.Instance = "/nearby"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "Validation error", result.Title)
	assert.Equal(t, "/nearby", result.Instance)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "radiusKm", result.Errors[0].Field)
}

func TestProblem_WriteWithoutTraceID(t *testing.T) {
	w := httptest.NewRecorder()
	models.NewInternalError("", "boom").Write(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("X-Request-Id"))
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name   string
		p      *models.Problem
		typ    string
		status int
	}{
		{"not found", models.NewNotFound("r", "listing not found"), models.ProblemTypeNotFound, http.StatusNotFound},
		{"too many", models.NewTooManyRequests("r", "slow down"), models.ProblemTypeTooManyRequests, http.StatusTooManyRequests},
		{"tls", models.NewTLSRequired("r"), models.ProblemTypeTLSRequired, http.StatusForbidden},
		{"internal", models.NewInternalError("r", "db"), models.ProblemTypeInternal, http.StatusInternalServerError},
		{"unavailable", models.NewServiceUnavailable("r", "db"), models.ProblemTypeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.p.Type)
			assert.Equal(t, tt.status, tt.p.Status)
			assert.NotEmpty(t, tt.p.Title)
			assert.NotEmpty(t, tt.p.Detail)
		})
	}
}

func TestTimestamp_RoundTrip(t *testing.T) {
	ts := models.Timestamp(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01T12:30:00Z"`, string(data))

	var parsed models.Timestamp
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.True(t, ts.Time().Equal(parsed.Time()))

	assert.Error(t, json.Unmarshal([]byte(`1`), &parsed))
}
