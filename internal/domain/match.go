package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signal names produced by the matchmaking scorer. Values are in [0,1].
const (
	SignalGeoOverlap         = "geo_overlap"
	SignalDemographicOverlap = "demographic_overlap"
	SignalTopicOverlap       = "topic_overlap"
	SignalHistoricalLift     = "historical_lift"
	SignalInventoryFit       = "inventory_fit"
	SignalBrandSafety        = "brand_safety"
)

// Match is the scored fit between an advertiser and a podcast. There is
// at most one row per (tenant, advertiser, podcast); recomputation
// overwrites in place.
type Match struct {
	ID           uuid.UUID          `json:"match_id"`
	TenantID     uuid.UUID          `json:"tenant_id"`
	AdvertiserID uuid.UUID          `json:"advertiser_id"`
	PodcastID    uuid.UUID          `json:"podcast_id"`
	Score        float64            `json:"score"`
	Rationale    string             `json:"rationale"`
	Signals      map[string]float64 `json:"signals"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// ROIMethod selects the ROI calculation mode.
type ROIMethod string

const (
	ROISimple      ROIMethod = "simple"
	ROIAttributed  ROIMethod = "attributed"
	ROIIncremental ROIMethod = "incremental"
	ROIMultiTouch  ROIMethod = "multi_touch"
)

// Valid reports whether m is a known ROI method.
func (m ROIMethod) Valid() bool {
	switch m {
	case ROISimple, ROIAttributed, ROIIncremental, ROIMultiTouch:
		return true
	}
	return false
}

// ROIMetrics is the derived (never persisted) result of an ROI calculation.
// When campaign cost is zero, ROI and ROAS report 0 rather than an error;
// NetProfit disambiguates that case.
type ROIMetrics struct {
	CampaignID        uuid.UUID `json:"campaign_id"`
	CampaignCost      float64   `json:"campaign_cost"`
	ConversionValue   float64   `json:"conversion_value"`
	ROI               float64   `json:"roi"`
	ROAS              float64   `json:"roas"`
	NetProfit         float64   `json:"net_profit"`
	ConversionCount   int       `json:"conversion_count"`
	AverageOrderValue *float64  `json:"average_order_value,omitempty"`
	CostPerConversion *float64  `json:"cost_per_conversion,omitempty"`
	PaybackPeriodDays *int      `json:"payback_period_days,omitempty"`
	Method            ROIMethod `json:"method"`
	Degraded          bool      `json:"degraded,omitempty"`
}
