// Package attribution persists listener attribution events and metric
// series, and computes per-campaign performance and ROI.
package attribution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

const ingestRetries = 3

// Store reads and writes attribution events and listener metrics.
type Store struct {
	db      *database.DB
	metrics *telemetry.Metrics
	events  *telemetry.Recorder

	// CountDistinctUserIDs switches unique-listener counting from the
	// legacy distinct-metric-value semantics to distinct user_id over
	// attribution events. Off by default for parity with historical
	// reports.
	CountDistinctUserIDs bool
}

// NewStore creates the attribution store.
func NewStore(db *database.DB, metrics *telemetry.Metrics, events *telemetry.Recorder) *Store {
	return &Store{db: db, metrics: metrics, events: events}
}

// Ingest upserts one attribution event, idempotent on event_id. The
// write retries a bounded number of times on transport failure before
// surfacing the error.
func (s *Store) Ingest(ctx context.Context, e *domain.AttributionEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return err
	}
	if e.TenantID != tenantID {
		return domain.Validationf("event tenant %s does not match request tenant %s", e.TenantID, tenantID)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	const q = `
		INSERT INTO attribution_events
			(event_id, tenant_id, timestamp, campaign_id, podcast_id, episode_id,
			 attribution_method, conversion_type, conversion_value, user_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING`

	var res sql.Result
	for attempt := 1; ; attempt++ {
		res, err = s.db.Exec(ctx, q,
			e.EventID, e.TenantID, e.Timestamp.UTC(), e.CampaignID, e.PodcastID, e.EpisodeID,
			e.Method, e.ConversionType, e.ConversionValue, e.UserID, e.SessionID)
		if err == nil {
			break
		}
		if !domain.IsTransport(err) || attempt >= ingestRetries {
			return fmt.Errorf("ingest event %s: %w", e.EventID, err)
		}
		logger.Warn("ingest retrying after transport error",
			"event_id", e.EventID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.metrics.IngestConflicts.Inc()
		return nil
	}
	s.metrics.EventsIngested.Inc()
	s.events.Emit(ctx, tenantID, telemetry.EventAttributionIngested, map[string]interface{}{
		"event_id":    e.EventID,
		"campaign_id": e.CampaignID,
		"method":      e.Method,
		"conversion":  e.IsConversion(),
	})
	return nil
}

// ListEvents returns the campaign's events in the window, newest first.
func (s *Store) ListEvents(ctx context.Context, campaignID uuid.UUID, start, end time.Time) ([]domain.AttributionEvent, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT event_id, tenant_id, timestamp, campaign_id, podcast_id, episode_id,
		       attribution_method, conversion_type, conversion_value, user_id, session_id
		FROM attribution_events
		WHERE tenant_id = $1 AND campaign_id = $2
		  AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp DESC
	`, tenantID, campaignID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.AttributionEvent
	for rows.Next() {
		var e domain.AttributionEvent
		if err := rows.Scan(
			&e.EventID, &e.TenantID, &e.Timestamp, &e.CampaignID, &e.PodcastID, &e.EpisodeID,
			&e.Method, &e.ConversionType, &e.ConversionValue, &e.UserID, &e.SessionID,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordMetric appends one listener metric sample.
func (s *Store) RecordMetric(ctx context.Context, m *domain.ListenerMetric) error {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return err
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO listener_metrics
			(timestamp, tenant_id, podcast_id, episode_id, metric_type, value, platform, country, device)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.Timestamp.UTC(), tenantID, m.PodcastID, m.EpisodeID, m.Type, m.Value, m.Platform, m.Country, m.Device)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// MetricFilter narrows ListMetrics beyond the mandatory keys.
type MetricFilter struct {
	Platform  *string
	EpisodeID *uuid.UUID
}

// ListMetrics returns samples for (podcast, metric type) in the window.
func (s *Store) ListMetrics(ctx context.Context, podcastID uuid.UUID, metricType domain.MetricType, start, end time.Time, f MetricFilter) ([]domain.ListenerMetric, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT timestamp, tenant_id, podcast_id, episode_id, metric_type, value, platform, country, device
		FROM listener_metrics
		WHERE tenant_id = $1 AND podcast_id = $2 AND metric_type = $3
		  AND timestamp >= $4 AND timestamp <= $5`
	args := []interface{}{tenantID, podcastID, metricType, start, end}
	idx := 6
	if f.Platform != nil {
		q += fmt.Sprintf(" AND platform = $%d", idx)
		args = append(args, *f.Platform)
		idx++
	}
	if f.EpisodeID != nil {
		q += fmt.Sprintf(" AND episode_id = $%d", idx)
		args = append(args, *f.EpisodeID)
		idx++
	}
	q += " ORDER BY timestamp DESC"

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.ListenerMetric
	for rows.Next() {
		var m domain.ListenerMetric
		if err := rows.Scan(&m.Timestamp, &m.TenantID, &m.PodcastID, &m.EpisodeID,
			&m.Type, &m.Value, &m.Platform, &m.Country, &m.Device); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Aggregate reduces a metric window numerically. Empty windows return 0
// for every operation, including min and max.
func (s *Store) Aggregate(ctx context.Context, podcastID uuid.UUID, metricType domain.MetricType, start, end time.Time, op domain.AggregateOp) (float64, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return 0, err
	}
	if !op.Valid() {
		return 0, domain.Validationf("unknown aggregate op %q", op)
	}

	// op is validated above, never caller text.
	q := fmt.Sprintf(`
		SELECT COALESCE(%s(value), 0)
		FROM listener_metrics
		WHERE tenant_id = $1 AND podcast_id = $2 AND metric_type = $3
		  AND timestamp >= $4 AND timestamp <= $5`, string(op))

	var result float64
	if err := s.db.FetchScalar(ctx, &result, q, tenantID, podcastID, metricType, start, end); err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", op, err)
	}
	return result, nil
}

// CampaignPerformance aggregates delivery metrics and attribution
// outcomes for one campaign over a window. Unique listeners use the
// legacy distinct-value semantics unless CountDistinctUserIDs is set.
func (s *Store) CampaignPerformance(ctx context.Context, campaignID, podcastID uuid.UUID, start, end time.Time) (*domain.CampaignPerformance, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	perf := &domain.CampaignPerformance{
		CampaignID:  campaignID,
		PodcastID:   podcastID,
		WindowStart: start,
		WindowEnd:   end,
	}

	err = s.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN metric_type = 'downloads' THEN value ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN metric_type = 'streams' THEN value ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN metric_type = 'listeners' THEN value END)
		FROM listener_metrics
		WHERE tenant_id = $1 AND podcast_id = $2
		  AND timestamp >= $3 AND timestamp <= $4
	`, tenantID, podcastID, start, end).Scan(
		&perf.TotalDownloads, &perf.TotalStreams, &perf.UniqueListeners)
	if err != nil {
		return nil, fmt.Errorf("campaign performance metrics: %w", err)
	}

	if s.CountDistinctUserIDs {
		var unique int
		err = s.db.FetchScalar(ctx, &unique, `
			SELECT COUNT(DISTINCT user_id)
			FROM attribution_events
			WHERE tenant_id = $1 AND campaign_id = $2 AND user_id IS NOT NULL
			  AND timestamp >= $3 AND timestamp <= $4
		`, tenantID, campaignID, start, end)
		if err != nil {
			return nil, fmt.Errorf("campaign performance listeners: %w", err)
		}
		perf.UniqueListeners = unique
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE conversion_type IS NOT NULL),
		       COALESCE(SUM(conversion_value), 0)
		FROM attribution_events
		WHERE tenant_id = $1 AND campaign_id = $2
		  AND timestamp >= $3 AND timestamp <= $4
	`, tenantID, campaignID, start, end).Scan(
		&perf.AttributionEvents, &perf.Conversions, &perf.ConversionValue)
	if err != nil {
		return nil, fmt.Errorf("campaign performance attribution: %w", err)
	}

	return perf, nil
}
