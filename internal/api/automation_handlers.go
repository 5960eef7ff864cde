package api

import (
	"net/http"
)

// ETLHealth handles POST /api/automation/etl-health.
func (h *Handlers) ETLHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.ETLHealth(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// RefreshMetrics handles POST /api/automation/refresh-metrics-daily.
func (h *Handlers) RefreshMetrics(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.RefreshMetricsDaily(r.Context()); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// PipelineAlerts handles POST /api/automation/pipeline-alerts.
func (h *Handlers) PipelineAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.jobs.PipelineAlerts(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// RunAllJobs handles POST /api/automation/run-all. A run already in
// flight on this instance yields 409 rather than a second pass.
func (h *Handlers) RunAllJobs(w http.ResponseWriter, r *http.Request) {
	result, err := h.jobs.RunAll(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if result.Skipped {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
