// Package handler provides the HTTP handlers of the nearby dev server.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/geofeed/geofeed/internal/api/models"
	"github.com/geofeed/geofeed/internal/api/response"
)

// readinessTimeout bounds all dependency checks of one readiness request.
const readinessTimeout = 2 * time.Second

// Check tests one dependency of the server.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// OpsHandler serves liveness, readiness and status endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    []Check
}

// NewOpsHandler creates an OpsHandler probing checks for readiness.
func NewOpsHandler(version, buildTime string, checks ...Check) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
	}
}

// HealthCheck handles GET /v1/ops/health. It never touches dependencies.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any failing check answers 503.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.checkAll(r.Context())

	status := http.StatusOK
	health := models.Health{Status: models.HealthStatusOK, Time: models.Timestamp(time.Now())}
	for _, s := range subsystems {
		if s.Status != models.HealthStatusOK {
			status = http.StatusServiceUnavailable
			health.Status = models.HealthStatusFail
			if health.Details == nil {
				health.Details = make(map[string]any)
			}
			health.Details[s.Name] = *s.Detail
		}
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status. Failing subsystems degrade the
// status but the endpoint itself answers 200.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	subsystems := h.checkAll(r.Context())

	overall := models.HealthStatusOK
	for _, s := range subsystems {
		if s.Status != models.HealthStatusOK {
			overall = models.HealthStatusDegraded
		}
	}

	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:     overall,
		Time:       models.Timestamp(time.Now()),
		Subsystems: subsystems,
	})
}

func (h *OpsHandler) checkAll(ctx context.Context) []models.SubsystemStatus {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	out := make([]models.SubsystemStatus, 0, len(h.checks))
	for _, c := range h.checks {
		s := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err := c.Ping(ctx); err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out
}
