package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// RecalculateMatches handles POST /api/matchmaking/recalculate.
// With both advertiser_id and podcast_id the pair is scored inline;
// with one of the two the fanout runs inline; with neither the sweep
// runs through the scheduler, scoped to the requesting tenant so one
// tenant's request never fans out across the others.
func (h *Handlers) RecalculateMatches(w http.ResponseWriter, r *http.Request) {
	advertiserID, err := optionalUUIDParam(r, "advertiser_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid advertiser id")
		return
	}
	podcastID, err := optionalUUIDParam(r, "podcast_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid podcast id")
		return
	}

	if advertiserID == nil && podcastID == nil {
		if h.sched == nil {
			respondError(w, http.StatusServiceUnavailable, "orchestration disabled")
			return
		}
		tenantID, err := domain.RequireTenant(r.Context())
		if err != nil {
			h.respondDomainError(w, err)
			return
		}
		execID, jobID, err := h.jobs.EnqueueTenantRecalc(h.sched, tenantID)
		if err != nil {
			h.respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"execution_id": execID,
			"job_id":       jobID,
			"status":       "queued",
		})
		return
	}

	result, err := h.jobs.RecalculateMatches(r.Context(), advertiserID, podcastID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetMatch handles GET /api/matchmaking/matches/{advertiserID}/{podcastID}.
func (h *Handlers) GetMatch(w http.ResponseWriter, r *http.Request) {
	advertiserID, err := uuid.Parse(chi.URLParam(r, "advertiserID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid advertiser id")
		return
	}
	podcastID, err := uuid.Parse(chi.URLParam(r, "podcastID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid podcast id")
		return
	}

	match, err := h.matches.Get(r.Context(), advertiserID, podcastID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

// TopMatches handles GET /api/matchmaking/advertisers/{advertiserID}/matches?limit.
func (h *Handlers) TopMatches(w http.ResponseWriter, r *http.Request) {
	advertiserID, err := uuid.Parse(chi.URLParam(r, "advertiserID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid advertiser id")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	matches, err := h.matches.TopForAdvertiser(r.Context(), advertiserID, limit)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"advertiser_id": advertiserID,
		"matches":       matches,
		"count":         len(matches),
	})
}

// StaleMatches handles GET /api/matchmaking/matches/stale?hours=N,
// listing matches whose scores predate the cutoff so operators can
// target recalculation instead of sweeping everything.
func (h *Handlers) StaleMatches(w http.ResponseWriter, r *http.Request) {
	tenantID, err := domain.RequireTenant(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err = strconv.Atoi(raw)
		if err != nil || hours < 1 {
			respondError(w, http.StatusBadRequest, "invalid hours")
			return
		}
	}

	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	stale, err := h.matches.StaleSince(r.Context(), tenantID, cutoff)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cutoff":  cutoff,
		"matches": stale,
		"count":   len(stale),
	})
}

// ScoreMatch handles POST /api/matchmaking/score. Body selects one
// advertiser/podcast pair; the fresh score is persisted and returned.
func (h *Handlers) ScoreMatch(w http.ResponseWriter, r *http.Request) {
	advertiserID, err := uuid.Parse(r.URL.Query().Get("advertiser_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid advertiser id")
		return
	}
	podcastID, err := uuid.Parse(r.URL.Query().Get("podcast_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid podcast id")
		return
	}

	match, err := h.matches.Score(r.Context(), advertiserID, podcastID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

// optionalUUIDParam parses a query param that may be absent. Absent
// returns (nil, nil); present-but-garbled returns an error.
func optionalUUIDParam(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, domain.Validationf("invalid %s %q", name, raw)
	}
	return &id, nil
}
