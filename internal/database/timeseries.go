package database

import (
	"context"
	"strings"

	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
)

// Time-series bootstrap. The listener metrics and attribution events
// live in TimescaleDB hypertables colocated with the relational store.
// All statements are create-if-missing; a mid-statement "already exists"
// from a racing bootstrap counts as success.

var bootstrapStatements = []string{
	`CREATE TABLE IF NOT EXISTS listener_metrics (
		timestamp   TIMESTAMPTZ NOT NULL,
		tenant_id   UUID NOT NULL,
		podcast_id  UUID NOT NULL,
		episode_id  UUID,
		metric_type TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		platform    TEXT,
		country     TEXT,
		device      TEXT
	)`,
	`SELECT create_hypertable('listener_metrics', 'timestamp', if_not_exists => TRUE)`,
	`CREATE INDEX IF NOT EXISTS idx_listener_metrics_podcast
		ON listener_metrics (tenant_id, podcast_id, metric_type, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS attribution_events (
		event_id          UUID PRIMARY KEY,
		tenant_id         UUID NOT NULL,
		timestamp         TIMESTAMPTZ NOT NULL,
		campaign_id       UUID NOT NULL,
		podcast_id        UUID NOT NULL,
		episode_id        UUID,
		attribution_method TEXT NOT NULL,
		conversion_type   TEXT,
		conversion_value  DOUBLE PRECISION,
		user_id           TEXT,
		session_id        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attribution_events_campaign
		ON attribution_events (tenant_id, campaign_id, timestamp DESC)`,

	`SELECT add_retention_policy('listener_metrics', INTERVAL '730 days', if_not_exists => TRUE)`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS listener_metrics_daily
		WITH (timescaledb.continuous) AS
		SELECT time_bucket('1 day', timestamp) AS bucket,
		       tenant_id, podcast_id, metric_type,
		       SUM(value) AS total, AVG(value) AS average, COUNT(*) AS samples
		FROM listener_metrics
		GROUP BY bucket, tenant_id, podcast_id, metric_type
		WITH NO DATA`,
	`SELECT add_continuous_aggregate_policy('listener_metrics_daily',
		start_offset => INTERVAL '3 days',
		end_offset => INTERVAL '1 hour',
		schedule_interval => INTERVAL '1 hour',
		if_not_exists => TRUE)`,
}

// Bootstrap ensures the hypertables, continuous aggregates and retention
// policies exist. Safe to run on every start.
func (d *DB) Bootstrap(ctx context.Context) error {
	for _, stmt := range bootstrapStatements {
		if _, err := d.primary.ExecContext(ctx, stmt); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			return wrapTransport("timeseries bootstrap", err)
		}
	}
	logger.Info("time-series bootstrap complete",
		"hypertables", "listener_metrics,attribution_events")
	return nil
}

// isAlreadyExists recognizes the errors Timescale raises when a racing
// bootstrap got there first.
func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already a hypertable") ||
		strings.Contains(msg, "duplicate")
}
