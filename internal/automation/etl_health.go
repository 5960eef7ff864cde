package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// ETL health classifications.
const (
	ETLHealthy   = "healthy"
	ETLDegraded  = "degraded"
	ETLUnhealthy = "unhealthy"
)

// Classification thresholds on the age of the last completed import.
const (
	etlHealthyWithin  = 6 * time.Hour
	etlDegradedWithin = 24 * time.Hour
)

// Gauge values per classification.
var etlStatusGauge = map[string]float64{
	ETLHealthy:   1,
	ETLDegraded:  0.5,
	ETLUnhealthy: 0,
}

// ETLHealthReport is the probe outcome for one tenant.
type ETLHealthReport struct {
	Status           string     `json:"status"`
	CompletedLast24h int        `json:"completed_last_24h"`
	FailedLast24h    int        `json:"failed_last_24h"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
}

// Degraded reports whether the probe found anything short of healthy.
func (r *ETLHealthReport) Degraded() bool {
	return r.Status != ETLHealthy
}

// ETLHealth counts recent imports and classifies the tenant's pipeline
// by the age of its last success. An alert event is emitted only on the
// unhealthy classification.
func (j *Jobs) ETLHealth(ctx context.Context) (*ETLHealthReport, error) {
	tenantID, err := domain.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := &ETLHealthReport{}

	err = j.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed' AND started_at >= $2),
			COUNT(*) FILTER (WHERE status = 'failed' AND started_at >= $2),
			MAX(started_at) FILTER (WHERE status = 'completed')
		FROM etl_imports
		WHERE tenant_id = $1
	`, tenantID, now.Add(-24*time.Hour)).Scan(
		&report.CompletedLast24h, &report.FailedLast24h, &nullTime{&report.LastSuccessAt})
	if err != nil {
		j.countRun(JobETLHealth, OutcomeFailed)
		return nil, fmt.Errorf("etl health probe: %w", err)
	}

	switch {
	case report.LastSuccessAt != nil && now.Sub(*report.LastSuccessAt) < etlHealthyWithin:
		report.Status = ETLHealthy
	case report.LastSuccessAt != nil && now.Sub(*report.LastSuccessAt) < etlDegradedWithin:
		report.Status = ETLDegraded
	default:
		report.Status = ETLUnhealthy
	}

	if j.metrics != nil {
		j.metrics.ETLHealthStatus.WithLabelValues(tenantID.String()).Set(etlStatusGauge[report.Status])
	}

	if report.Status == ETLUnhealthy {
		logger.Warn("etl pipeline unhealthy",
			"tenant_id", tenantID,
			"failed_last_24h", report.FailedLast24h,
			"last_success_at", report.LastSuccessAt)
		j.events.Emit(ctx, tenantID, telemetry.EventETLHealthAlert, map[string]interface{}{
			"status":             report.Status,
			"failed_last_24h":    report.FailedLast24h,
			"completed_last_24h": report.CompletedLast24h,
			"last_success_at":    report.LastSuccessAt,
		})
	}

	j.countRun(JobETLHealth, OutcomeCompleted)
	return report, nil
}

// nullTime scans a nullable timestamp into a **time.Time.
type nullTime struct {
	dest **time.Time
}

func (n *nullTime) Scan(value interface{}) error {
	var nt sql.NullTime
	if err := nt.Scan(value); err != nil {
		return err
	}
	if nt.Valid {
		t := nt.Time.UTC()
		*n.dest = &t
	} else {
		*n.dest = nil
	}
	return nil
}
