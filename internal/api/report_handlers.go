package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// CampaignReport handles POST /api/attribution/campaigns/{campaignID}/report.
// The body carries the campaign snapshot; ?export=true additionally
// ships the rendered CSV to the configured bucket.
func (h *Handlers) CampaignReport(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var campaign domain.Campaign
	if err := json.NewDecoder(r.Body).Decode(&campaign); err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign payload")
		return
	}
	campaign.ID = campaignID

	report, err := h.reportBuilder.Build(r.Context(), &campaign)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	if r.URL.Query().Get("export") == "true" {
		if h.reportExporter == nil {
			respondError(w, http.StatusServiceUnavailable, "report export not configured")
			return
		}
		key, err := h.reportExporter.Export(r.Context(), report)
		if err != nil {
			h.respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"report":     report,
			"object_key": key,
		})
		return
	}
	respondJSON(w, http.StatusOK, report)
}
