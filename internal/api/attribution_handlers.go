package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/attribution"
	"github.com/castradar/sponsor-analytics/internal/domain"
)

// IngestEvent handles POST /api/attribution/events.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.AttributionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.TenantID == uuid.Nil {
		if tenantID, err := domain.RequireTenant(r.Context()); err == nil {
			event.TenantID = tenantID
		}
	}

	if err := h.events.Ingest(r.Context(), &event); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id": event.EventID,
		"status":   "accepted",
	})
}

// roiRequest is the payload for CampaignROI. The campaign snapshot
// comes with the request so the core stays stateless about campaign
// ownership beyond tenant checks.
type roiRequest struct {
	Campaign     domain.Campaign  `json:"campaign"`
	Method       domain.ROIMethod `json:"method"`
	BaselineRate *float64         `json:"baseline_rate,omitempty"`
	Breakdown    bool             `json:"breakdown,omitempty"`
}

// CampaignROI handles POST /api/attribution/campaigns/{campaignID}/roi.
func (h *Handlers) CampaignROI(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req roiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	req.Campaign.ID = campaignID
	if req.Method == "" {
		req.Method = domain.ROIAttributed
	}
	if err := req.Campaign.Validate(); err != nil {
		h.respondDomainError(w, err)
		return
	}

	events, err := h.events.ListEvents(r.Context(), campaignID, req.Campaign.StartDate, req.Campaign.EndDate)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	if req.Breakdown {
		breakdown, err := h.calculator.ByMethod(&req.Campaign, events)
		if err != nil {
			h.respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, breakdown)
		return
	}

	metrics, err := h.calculator.Calculate(&req.Campaign, events, req.BaselineRate, req.Method)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

// CampaignPerformance handles
// GET /api/attribution/campaigns/{campaignID}/performance?podcast_id&start&end.
func (h *Handlers) CampaignPerformance(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	podcastID, err := uuid.Parse(r.URL.Query().Get("podcast_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid podcast id")
		return
	}

	start, end, err := parseWindow(r, 30*24*time.Hour)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	perf, err := h.events.CampaignPerformance(r.Context(), campaignID, podcastID, start, end)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, perf)
}

// TrackingLinks handles POST /api/attribution/tracking-links.
func (h *Handlers) TrackingLinks(w http.ResponseWriter, r *http.Request) {
	var campaign domain.Campaign
	if err := json.NewDecoder(r.Body).Decode(&campaign); err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign payload")
		return
	}
	links := attribution.BuildTrackingLinks(h.cfg.Tracking.VanityURLBase, &campaign)
	respondJSON(w, http.StatusOK, links)
}

// parseWindow reads start/end query params, defaulting to a trailing
// window ending now.
func parseWindow(r *http.Request, fallback time.Duration) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.Add(-fallback)

	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, domain.Validationf("invalid start time %q", raw)
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, domain.Validationf("invalid end time %q", raw)
		}
		end = t
	}
	if end.Before(start) {
		return start, end, domain.Validationf("window end precedes start")
	}
	return start, end, nil
}
