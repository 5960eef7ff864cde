package automation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/scheduler"
)

// ActiveTenants lists every tenant with catalog presence. Cron work
// carries no request identity, so scheduled jobs sweep this set and
// run once per tenant.
func (j *Jobs) ActiveTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := j.db.Query(ctx, `
		SELECT DISTINCT tenant_id FROM sponsors
		UNION
		SELECT DISTINCT tenant_id FROM podcasts
	`)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// perTenant adapts a tenant-scoped job body into a scheduler handler
// that sweeps all active tenants. One tenant failing does not stop the
// sweep; the aggregate error surfaces for the scheduler's retry policy.
func (j *Jobs) perTenant(name string, fn func(context.Context) error) scheduler.HandlerFunc {
	return func(ctx context.Context) (interface{}, error) {
		tenants, err := j.ActiveTenants(ctx)
		if err != nil {
			return nil, err
		}
		failed := 0
		for _, tenantID := range tenants {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := fn(domain.WithTenant(ctx, tenantID)); err != nil {
				failed++
				logger.Error("scheduled job failed for tenant",
					"job", name, "tenant_id", tenantID, "error", err)
			}
		}
		summary := map[string]interface{}{"tenants": len(tenants), "failed": failed}
		if failed > 0 {
			return summary, fmt.Errorf("%s failed for %d of %d tenants", name, failed, len(tenants))
		}
		return summary, nil
	}
}

// EnqueueTenantRecalc queues a match recalculation scoped to one
// tenant. The job is registered per tenant and never fires from the
// cron scan, so a request path can queue heavy work without sweeping
// every other tenant.
func (j *Jobs) EnqueueTenantRecalc(sched *scheduler.Scheduler, tenantID uuid.UUID) (uuid.UUID, string, error) {
	jobID := fmt.Sprintf("%s:%s", JobRecalcMatches, tenantID)
	job := &domain.ScheduledJob{
		ID:             jobID,
		Name:           "Tenant match recalculation",
		Schedule:       scheduler.ScheduleImmediate,
		Priority:       domain.PriorityNormal,
		MaxRetries:     1,
		TimeoutSeconds: 1800,
		Resources:      domain.ResourceRequirements{CPU: 2, MemoryMB: 1024, ConcurrentJobs: 1},
		Enabled:        false,
	}
	handler := func(ctx context.Context) (interface{}, error) {
		result, err := j.RecalculateMatches(domain.WithTenant(ctx, tenantID), nil, nil)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := sched.Register(job, handler); err != nil {
		return uuid.Nil, "", err
	}
	execID, err := sched.Enqueue(jobID, nil)
	if err != nil {
		return uuid.Nil, "", err
	}
	return execID, jobID, nil
}

// RegisterSchedules registers the four automation jobs. With enabled
// false the jobs exist for on-demand enqueueing only and never fire
// from the cron scan, which keeps API-hosting instances from racing
// the worker's recurring runs.
func (j *Jobs) RegisterSchedules(sched *scheduler.Scheduler, enabled bool) error {
	defs := []struct {
		job     *domain.ScheduledJob
		handler scheduler.HandlerFunc
	}{
		{
			job: &domain.ScheduledJob{
				ID:             JobETLHealth,
				Name:           "ETL pipeline health probe",
				Schedule:       scheduler.ScheduleHourly,
				Priority:       domain.PriorityHigh,
				MaxRetries:     2,
				TimeoutSeconds: 120,
				Resources:      domain.ResourceRequirements{CPU: 0.5, MemoryMB: 128, ConcurrentJobs: 1},
				Enabled:        enabled,
			},
			handler: j.perTenant(JobETLHealth, func(ctx context.Context) error {
				_, err := j.ETLHealth(ctx)
				return err
			}),
		},
		{
			job: &domain.ScheduledJob{
				ID:             JobRefreshMetrics,
				Name:           "Daily metric rollup refresh",
				Schedule:       scheduler.ScheduleDaily,
				Priority:       domain.PriorityNormal,
				MaxRetries:     3,
				TimeoutSeconds: 600,
				Resources:      domain.ResourceRequirements{CPU: 1, MemoryMB: 512, ConcurrentJobs: 1},
				Enabled:        enabled,
			},
			handler: j.perTenant(JobRefreshMetrics, j.RefreshMetricsDaily),
		},
		{
			job: &domain.ScheduledJob{
				ID:             JobPipelineAlerts,
				Name:           "Deal pipeline alerting",
				Schedule:       scheduler.ScheduleDaily,
				Priority:       domain.PriorityNormal,
				DependsOn:      []string{JobETLHealth},
				MaxRetries:     2,
				TimeoutSeconds: 300,
				Resources:      domain.ResourceRequirements{CPU: 0.5, MemoryMB: 256, ConcurrentJobs: 1},
				Enabled:        enabled,
			},
			handler: j.perTenant(JobPipelineAlerts, func(ctx context.Context) error {
				_, err := j.PipelineAlerts(ctx)
				return err
			}),
		},
		{
			job: &domain.ScheduledJob{
				ID:             JobRecalcMatches,
				Name:           "Tenant-wide match recalculation",
				Schedule:       scheduler.ScheduleDaily,
				Priority:       domain.PriorityLow,
				MaxRetries:     1,
				TimeoutSeconds: 1800,
				Resources:      domain.ResourceRequirements{CPU: 2, MemoryMB: 1024, ConcurrentJobs: 1},
				Enabled:        enabled,
			},
			handler: j.perTenant(JobRecalcMatches, func(ctx context.Context) error {
				_, err := j.RecalculateMatches(ctx, nil, nil)
				return err
			}),
		},
	}

	for _, d := range defs {
		if err := sched.Register(d.job, d.handler); err != nil {
			return fmt.Errorf("register %s: %w", d.job.ID, err)
		}
	}
	return nil
}
