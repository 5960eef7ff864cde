package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttributionMethod enumerates how a listener action is tied to a campaign.
type AttributionMethod string

const (
	MethodPromoCode AttributionMethod = "promo_code"
	MethodPixel     AttributionMethod = "pixel"
	MethodUTM       AttributionMethod = "utm"
	MethodCustom    AttributionMethod = "custom"
	MethodDirect    AttributionMethod = "direct"
)

// Valid reports whether m is a known attribution method.
func (m AttributionMethod) Valid() bool {
	switch m {
	case MethodPromoCode, MethodPixel, MethodUTM, MethodCustom, MethodDirect:
		return true
	}
	return false
}

// AttributionEvent is one recorded listener action linked to a campaign.
// Events are immutable after ingest; idempotency is keyed on EventID.
type AttributionEvent struct {
	EventID         uuid.UUID         `json:"event_id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	Timestamp       time.Time         `json:"timestamp"`
	CampaignID      uuid.UUID         `json:"campaign_id"`
	PodcastID       uuid.UUID         `json:"podcast_id"`
	EpisodeID       *uuid.UUID        `json:"episode_id,omitempty"`
	Method          AttributionMethod `json:"method"`
	ConversionType  *string           `json:"conversion_type,omitempty"`
	ConversionValue *float64          `json:"conversion_value,omitempty"`
	UserID          *string           `json:"user_id,omitempty"`
	SessionID       *string           `json:"session_id,omitempty"`
}

// IsConversion reports whether the event carries a conversion.
func (e *AttributionEvent) IsConversion() bool {
	return e.ConversionType != nil && *e.ConversionType != ""
}

// Value returns the conversion value, zero when absent.
func (e *AttributionEvent) Value() float64 {
	if e.ConversionValue == nil {
		return 0
	}
	return *e.ConversionValue
}

// Validate enforces the ingest invariants.
func (e *AttributionEvent) Validate() error {
	if e.EventID == uuid.Nil {
		return Validationf("event_id is required")
	}
	if e.TenantID == uuid.Nil {
		return Validationf("tenant_id is required")
	}
	if e.CampaignID == uuid.Nil {
		return Validationf("campaign_id is required")
	}
	if e.PodcastID == uuid.Nil {
		return Validationf("podcast_id is required")
	}
	if !e.Method.Valid() {
		return Validationf("unknown attribution method %q", e.Method)
	}
	if e.ConversionValue != nil && !e.IsConversion() {
		return Validationf("conversion_value requires conversion_type")
	}
	if e.ConversionValue != nil && *e.ConversionValue < 0 {
		return Validationf("conversion_value must be non-negative")
	}
	return nil
}

// MetricType enumerates listener metric series.
type MetricType string

const (
	MetricDownloads      MetricType = "downloads"
	MetricStreams        MetricType = "streams"
	MetricCompletionRate MetricType = "completion_rate"
	MetricListeners      MetricType = "listeners"
)

// ListenerMetric is one append-only time-series sample.
type ListenerMetric struct {
	Timestamp time.Time  `json:"timestamp"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	PodcastID uuid.UUID  `json:"podcast_id"`
	EpisodeID *uuid.UUID `json:"episode_id,omitempty"`
	Type      MetricType `json:"metric_type"`
	Value     float64    `json:"value"`
	Platform  *string    `json:"platform,omitempty"`
	Country   *string    `json:"country,omitempty"`
	Device    *string    `json:"device,omitempty"`
}

// AggregateOp is a numeric reduction over a metric window.
type AggregateOp string

const (
	AggSum AggregateOp = "sum"
	AggAvg AggregateOp = "avg"
	AggMin AggregateOp = "min"
	AggMax AggregateOp = "max"
)

// Valid reports whether op is a supported reduction.
func (op AggregateOp) Valid() bool {
	switch op {
	case AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// CampaignPerformance aggregates the delivery and conversion side of a
// campaign over a time window.
type CampaignPerformance struct {
	CampaignID        uuid.UUID `json:"campaign_id"`
	PodcastID         uuid.UUID `json:"podcast_id"`
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
	TotalDownloads    float64   `json:"total_downloads"`
	TotalStreams      float64   `json:"total_streams"`
	UniqueListeners   int       `json:"unique_listeners"`
	AttributionEvents int       `json:"attribution_events"`
	Conversions       int       `json:"conversions"`
	ConversionValue   float64   `json:"conversion_value"`
}
