package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// ScheduleJob handles POST /api/orchestration/jobs/{jobID}/schedule.
// The optional priority query param overrides the registered priority
// for this one execution.
func (h *Handlers) ScheduleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var priority *domain.JobPriority
	if raw := r.URL.Query().Get("priority"); raw != "" {
		p := domain.ParsePriority(raw)
		priority = &p
	}

	execID, err := h.sched.Enqueue(jobID, priority)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"execution_id": execID,
		"job_id":       jobID,
		"status":       "queued",
	})
}

// ExecutionStatus handles GET /api/orchestration/executions/{executionID}.
func (h *Handlers) ExecutionStatus(w http.ResponseWriter, r *http.Request) {
	execID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := h.sched.Execution(execID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// CancelExecution handles POST /api/orchestration/executions/{executionID}/cancel.
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	execID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	if err := h.sched.Cancel(execID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// JobStatus handles GET /api/orchestration/jobs/{jobID}: the job
// definition plus its execution history on this instance.
func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.sched.Job(jobID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":        job,
		"executions": h.sched.ExecutionsForJob(jobID),
	})
}

// SetJobEnabled handles PUT /api/orchestration/jobs/{jobID}/enabled.
// The flag is the ops control plane for recurring fires and survives
// restarts through the scheduler checkpoint.
func (h *Handlers) SetJobEnabled(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		respondError(w, http.StatusBadRequest, "body must carry an enabled flag")
		return
	}

	if err := h.sched.SetJobEnabled(r.Context(), jobID, *body.Enabled); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  jobID,
		"enabled": *body.Enabled,
	})
}

// QueueStatus handles GET /api/orchestration/queue.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"depth": h.sched.QueueDepth(),
	})
}
