// Package reports assembles campaign performance exports and ships
// them to object storage.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/castradar/sponsor-analytics/internal/attribution"
	"github.com/castradar/sponsor-analytics/internal/domain"
)

// CampaignReport is one campaign's performance plus its ROI under the
// campaign's configured attribution method.
type CampaignReport struct {
	Campaign    *domain.Campaign            `json:"campaign"`
	Performance *domain.CampaignPerformance `json:"performance"`
	ROI         *domain.ROIMetrics          `json:"roi"`
	Breakdown   *attribution.Breakdown      `json:"breakdown"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// Builder assembles reports from the attribution store and calculator.
type Builder struct {
	store *attribution.Store
	calc  *attribution.Calculator
}

// NewBuilder creates the report builder.
func NewBuilder(store *attribution.Store, calc *attribution.Calculator) *Builder {
	return &Builder{store: store, calc: calc}
}

// Build assembles the report for one campaign over its flight window.
func (b *Builder) Build(ctx context.Context, campaign *domain.Campaign) (*CampaignReport, error) {
	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	perf, err := b.store.CampaignPerformance(ctx, campaign.ID, campaign.PodcastID, campaign.StartDate, campaign.EndDate)
	if err != nil {
		return nil, fmt.Errorf("build report for campaign %s: %w", campaign.ID, err)
	}

	events, err := b.store.ListEvents(ctx, campaign.ID, campaign.StartDate, campaign.EndDate)
	if err != nil {
		return nil, fmt.Errorf("build report for campaign %s: %w", campaign.ID, err)
	}

	roi, err := b.calc.Calculate(campaign, events, nil, domain.ROIAttributed)
	if err != nil {
		return nil, err
	}
	breakdown, err := b.calc.ByMethod(campaign, events)
	if err != nil {
		return nil, err
	}

	return &CampaignReport{
		Campaign:    campaign,
		Performance: perf,
		ROI:         roi,
		Breakdown:   breakdown,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// CSV renders the report as a two-row CSV (header + values).
func (r *CampaignReport) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"campaign_id", "campaign_name", "window_start", "window_end",
		"total_downloads", "total_streams", "unique_listeners",
		"attribution_events", "conversions", "conversion_value",
		"campaign_cost", "roi", "roas", "net_profit",
	}
	row := []string{
		r.Campaign.ID.String(),
		r.Campaign.Name,
		r.Performance.WindowStart.UTC().Format(time.RFC3339),
		r.Performance.WindowEnd.UTC().Format(time.RFC3339),
		formatFloat(r.Performance.TotalDownloads),
		formatFloat(r.Performance.TotalStreams),
		strconv.Itoa(r.Performance.UniqueListeners),
		strconv.Itoa(r.Performance.AttributionEvents),
		strconv.Itoa(r.Performance.Conversions),
		formatFloat(r.Performance.ConversionValue),
		formatFloat(r.ROI.CampaignCost),
		formatFloat(r.ROI.ROI),
		formatFloat(r.ROI.ROAS),
		formatFloat(r.ROI.NetProfit),
	}

	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.Write(row); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ObjectKey is the storage key for this report.
func (r *CampaignReport) ObjectKey() string {
	return fmt.Sprintf("tenants/%s/reports/%s/%s.csv",
		r.Campaign.TenantID, r.Campaign.ID, r.GeneratedAt.Format("2006-01-02"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
