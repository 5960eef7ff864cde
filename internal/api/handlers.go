// Package api is the HTTP collaborator over the core: it resolves
// tenant identity, enforces feature gates and renders domain errors.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/castradar/sponsor-analytics/internal/attribution"
	"github.com/castradar/sponsor-analytics/internal/automation"
	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/matchmaking"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/reports"
	"github.com/castradar/sponsor-analytics/internal/scheduler"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// Handlers carries the core services behind the HTTP surface.
type Handlers struct {
	cfg *config.Config

	events     *attribution.Store
	calculator *attribution.Calculator
	matches    *matchmaking.Store
	jobs       *automation.Jobs
	sched      *scheduler.Scheduler
	metrics    *telemetry.Metrics

	reportBuilder  *reports.Builder
	reportExporter *reports.S3Exporter
}

// SetReportExporter enables the campaign report surface. Must be called
// before SetupRoutes; instances without an exporter simply do not serve
// report routes.
func (h *Handlers) SetReportExporter(builder *reports.Builder, exporter *reports.S3Exporter) {
	h.reportBuilder = builder
	h.reportExporter = exporter
}

// NewHandlers wires the HTTP layer to the core services.
func NewHandlers(
	cfg *config.Config,
	events *attribution.Store,
	calculator *attribution.Calculator,
	matches *matchmaking.Store,
	jobs *automation.Jobs,
	sched *scheduler.Scheduler,
	metrics *telemetry.Metrics,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		events:     events,
		calculator: calculator,
		matches:    matches,
		jobs:       jobs,
		sched:      sched,
		metrics:    metrics,
	}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the core error taxonomy onto HTTP statuses
// and counts the terminal failure by class.
func (h *Handlers) respondDomainError(w http.ResponseWriter, err error) {
	if h.metrics != nil {
		h.metrics.ErrorsTotal.WithLabelValues(domain.ErrorClass(err)).Inc()
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case domain.IsTransport(err):
		logger.Error("request failed on transport error", "error", err)
		respondError(w, http.StatusServiceUnavailable, "persistence unavailable")
	default:
		logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
