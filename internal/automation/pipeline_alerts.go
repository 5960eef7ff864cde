package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// Pipeline alert categories.
const (
	AlertStuckDeals       = "stuck_deals"
	AlertLongNegotiations = "long_negotiations"
	AlertLostWithoutNotes = "lost_without_notes"
)

// Stage-age cutoffs for the alert categories.
const (
	stuckAfter           = 7 * 24 * time.Hour
	longNegotiationAfter = 14 * 24 * time.Hour
)

// PipelineCampaign identifies one campaign inside an alert block.
type PipelineCampaign struct {
	ID             uuid.UUID  `json:"campaign_id"`
	Name           string     `json:"name"`
	Stage          string     `json:"stage"`
	StageChangedAt *time.Time `json:"stage_changed_at,omitempty"`
}

// PipelineAlert is one non-empty alert category.
type PipelineAlert struct {
	Category  string             `json:"category"`
	Campaigns []PipelineCampaign `json:"campaigns"`
}

// PipelineAlerts runs the three deal-pipeline checks and returns one
// alert block per non-empty category, emitting an event for each.
func (j *Jobs) PipelineAlerts(ctx context.Context) ([]PipelineAlert, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	checks := []struct {
		category string
		query    string
		args     []interface{}
	}{
		{
			category: AlertStuckDeals,
			query: `
				SELECT campaign_id, name, stage, stage_changed_at
				FROM campaigns
				WHERE tenant_id = $1
				  AND stage IS NOT NULL AND stage NOT IN ('won', 'lost')
				  AND stage_changed_at < $2
				ORDER BY stage_changed_at`,
			args: []interface{}{tenantID, now.Add(-stuckAfter)},
		},
		{
			category: AlertLongNegotiations,
			query: `
				SELECT campaign_id, name, stage, stage_changed_at
				FROM campaigns
				WHERE tenant_id = $1
				  AND stage = 'negotiation'
				  AND stage_changed_at < $2
				ORDER BY stage_changed_at`,
			args: []interface{}{tenantID, now.Add(-longNegotiationAfter)},
		},
		{
			category: AlertLostWithoutNotes,
			query: `
				SELECT campaign_id, name, stage, stage_changed_at
				FROM campaigns
				WHERE tenant_id = $1
				  AND stage = 'lost'
				  AND (notes IS NULL OR notes = '')
				ORDER BY stage_changed_at`,
			args: []interface{}{tenantID},
		},
	}

	var alerts []PipelineAlert
	for _, check := range checks {
		campaigns, err := j.pipelineCampaigns(ctx, check.query, check.args...)
		if err != nil {
			j.countRun(JobPipelineAlerts, OutcomeFailed)
			return nil, fmt.Errorf("pipeline check %s: %w", check.category, err)
		}
		if len(campaigns) == 0 {
			continue
		}
		alert := PipelineAlert{Category: check.category, Campaigns: campaigns}
		alerts = append(alerts, alert)
		j.events.Emit(ctx, tenantID, telemetry.EventPipelineAlert, map[string]interface{}{
			"category": alert.Category,
			"count":    len(alert.Campaigns),
		})
	}

	j.countRun(JobPipelineAlerts, OutcomeCompleted)
	return alerts, nil
}

func (j *Jobs) pipelineCampaigns(ctx context.Context, query string, args ...interface{}) ([]PipelineCampaign, error) {
	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PipelineCampaign
	for rows.Next() {
		var c PipelineCampaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Stage, &nullTime{&c.StageChangedAt}); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
