// Package automation holds the tenant-scoped background jobs: ETL
// health probing, daily metric refresh, deal-pipeline alerting and
// match recalculation.
package automation

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/matchmaking"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// Job names, used in metrics labels and scheduler registrations.
const (
	JobETLHealth      = "etl_health"
	JobRefreshMetrics = "refresh_metrics_daily"
	JobPipelineAlerts = "deal_pipeline_alerts"
	JobRecalcMatches  = "recalculate_matches"
	JobRunAll         = "run_all"
)

// Run outcomes for the automation_runs metric.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Jobs bundles the automation handlers. The running flag is a same-
// instance guard against overlapping run_all invocations, not a lock;
// cross-process exclusion belongs to the jobs that need it.
type Jobs struct {
	db      *database.DB
	recalc  *matchmaking.Recalculator
	metrics *telemetry.Metrics
	events  *telemetry.Recorder

	running atomic.Bool
}

// NewJobs creates the automation job set.
func NewJobs(db *database.DB, recalc *matchmaking.Recalculator, metrics *telemetry.Metrics, events *telemetry.Recorder) *Jobs {
	return &Jobs{db: db, recalc: recalc, metrics: metrics, events: events}
}

// RefreshMetricsDaily invokes the stored refresh routine on the
// relational store. Safe to run repeatedly.
func (j *Jobs) RefreshMetricsDaily(ctx context.Context) error {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return err
	}

	if _, err := j.db.Exec(ctx, "SELECT refresh_metrics_daily()"); err != nil {
		j.countRun(JobRefreshMetrics, OutcomeFailed)
		return fmt.Errorf("refresh metrics daily: %w", err)
	}

	j.countRun(JobRefreshMetrics, OutcomeCompleted)
	j.events.Emit(ctx, tenantID, telemetry.EventMetricsRefreshed, map[string]interface{}{
		"refreshed_at": time.Now().UTC(),
	})
	return nil
}

// RecalculateMatches dispatches to the scorer fanout. With neither id
// supplied this is the tenant-wide Cartesian sweep and must only be
// invoked from scheduled work; the HTTP layer enforces that.
func (j *Jobs) RecalculateMatches(ctx context.Context, advertiserID, podcastID *uuid.UUID) (*matchmaking.RecalcResult, error) {
	result, err := j.recalc.Recalculate(ctx, advertiserID, podcastID)
	if err != nil {
		j.countRun(JobRecalcMatches, OutcomeFailed)
		return nil, err
	}
	j.countRun(JobRecalcMatches, OutcomeCompleted)
	return result, nil
}

// RunAllResult reports the aggregate run.
type RunAllResult struct {
	ETLHealth      *ETLHealthReport `json:"etl_health,omitempty"`
	PipelineAlerts []PipelineAlert  `json:"pipeline_alerts,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
	Skipped        bool             `json:"skipped,omitempty"`
}

// RunAll executes ETL health, metric refresh and pipeline alerts
// sequentially. Match recalculation is excluded; its fanout is too
// heavy for the aggregate and runs on its own schedule. A concurrent
// invocation on the same instance short-circuits.
func (j *Jobs) RunAll(ctx context.Context) (*RunAllResult, error) {
	if _, err := domain.RequireTenant(ctx); err != nil {
		return nil, err
	}
	if !j.running.CompareAndSwap(false, true) {
		logger.Warn("automation run_all already in progress, skipping")
		j.countRun(JobRunAll, OutcomeSkipped)
		return &RunAllResult{Skipped: true}, nil
	}
	defer j.running.Store(false)

	result := &RunAllResult{}

	report, err := j.ETLHealth(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("etl_health: %v", err))
	} else {
		result.ETLHealth = report
	}

	if err := j.RefreshMetricsDaily(ctx); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("refresh_metrics_daily: %v", err))
	}

	alerts, err := j.PipelineAlerts(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("deal_pipeline_alerts: %v", err))
	} else {
		result.PipelineAlerts = alerts
	}

	outcome := OutcomeCompleted
	if len(result.Errors) > 0 {
		outcome = OutcomeFailed
	}
	j.countRun(JobRunAll, outcome)
	return result, nil
}

func (j *Jobs) countRun(job, outcome string) {
	if j.metrics != nil {
		j.metrics.AutomationRuns.WithLabelValues(job, outcome).Inc()
	}
}

// RetryBackoff is the reschedule delay applied when an automation job
// fails under its own task store: 60 × 2^retryCount seconds.
func RetryBackoff(retryCount int) time.Duration {
	return time.Duration(60*math.Pow(2, float64(retryCount))) * time.Second
}
