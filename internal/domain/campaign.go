package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a sponsorship campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Deal pipeline stages tracked on a campaign. Won/lost are terminal.
const (
	StageProspect    = "prospect"
	StageOutreach    = "outreach"
	StageNegotiation = "negotiation"
	StageWon         = "won"
	StageLost        = "lost"
)

// AttributionConfig describes how conversions are attributed to a campaign.
type AttributionConfig struct {
	Method           AttributionMethod `json:"method"`
	PromoCode        *string           `json:"promo_code,omitempty"`
	PixelURL         *string           `json:"pixel_url,omitempty"`
	UTMSource        *string           `json:"utm_source,omitempty"`
	UTMMedium        *string           `json:"utm_medium,omitempty"`
	UTMCampaign      *string           `json:"utm_campaign,omitempty"`
	CustomTrackingID *string           `json:"custom_tracking_id,omitempty"`
}

// Campaign is a sponsorship campaign between a sponsor and a podcast.
type Campaign struct {
	ID            uuid.UUID         `json:"id"`
	TenantID      uuid.UUID         `json:"tenant_id"`
	PodcastID     uuid.UUID         `json:"podcast_id"`
	SponsorID     uuid.UUID         `json:"sponsor_id"`
	Name          string            `json:"name"`
	Status        CampaignStatus    `json:"status"`
	StartDate     time.Time         `json:"start_date"`
	EndDate       time.Time         `json:"end_date"`
	CampaignValue float64           `json:"campaign_value"`
	Attribution   AttributionConfig `json:"attribution_config"`
	EpisodeIDs    []uuid.UUID       `json:"episode_ids"`
	Stage         *string           `json:"stage,omitempty"`
	StageChangedAt *time.Time       `json:"stage_changed_at,omitempty"`
	Notes         *string           `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Validate enforces the campaign invariants.
func (c *Campaign) Validate() error {
	if c.TenantID == uuid.Nil {
		return Validationf("tenant_id is required")
	}
	if c.Name == "" {
		return Validationf("name is required")
	}
	if c.CampaignValue < 0 {
		return Validationf("campaign_value must be non-negative")
	}
	if c.EndDate.Before(c.StartDate) {
		return Validationf("start_date must not be after end_date")
	}
	if c.Attribution.Method != "" && !c.Attribution.Method.Valid() {
		return Validationf("unknown attribution method %q", c.Attribution.Method)
	}
	return nil
}

// DurationDays returns the campaign flight length in whole days, minimum 1.
func (c *Campaign) DurationDays() int {
	d := int(c.EndDate.Sub(c.StartDate).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}
