package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
)

const taskTypeScheduledJob = "scheduled_job"

// taskMetadata is the JSONB payload carrying everything the row schema
// has no column for, including the last_run/next_run checkpoint.
type taskMetadata struct {
	Priority       string                      `json:"priority"`
	DependsOn      []string                    `json:"depends_on,omitempty"`
	MaxRetries     int                         `json:"max_retries"`
	TimeoutSeconds int                         `json:"timeout_seconds,omitempty"`
	Resources      domain.ResourceRequirements `json:"resource_requirements"`
	LastRun        *time.Time                  `json:"last_run,omitempty"`
	NextRun        *time.Time                  `json:"next_run,omitempty"`
}

// TaskStore checkpoints job definitions to the scheduled_tasks table so
// registrations survive restarts. Scheduler runtime state (queue,
// executions) stays in memory.
type TaskStore struct {
	db *database.DB
}

// NewTaskStore creates the checkpoint store.
func NewTaskStore(db *database.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Save upserts the job definition, keyed by task name.
func (t *TaskStore) Save(ctx context.Context, job *domain.ScheduledJob) error {
	meta, err := json.Marshal(taskMetadata{
		Priority:       job.Priority.String(),
		DependsOn:      job.DependsOn,
		MaxRetries:     job.MaxRetries,
		TimeoutSeconds: job.TimeoutSeconds,
		Resources:      job.Resources,
		LastRun:        job.LastRun,
		NextRun:        job.NextRun,
	})
	if err != nil {
		return fmt.Errorf("marshal task metadata: %w", err)
	}

	_, err = t.db.Exec(ctx, `
		INSERT INTO scheduled_tasks (task_name, task_type, schedule_cron, enabled, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_name) DO UPDATE
		SET task_type = EXCLUDED.task_type,
		    schedule_cron = EXCLUDED.schedule_cron,
		    enabled = EXCLUDED.enabled,
		    description = EXCLUDED.description,
		    metadata = EXCLUDED.metadata
	`, job.ID, taskTypeScheduledJob, job.Schedule, job.Enabled, job.Name, meta)
	if err != nil {
		return fmt.Errorf("save task %s: %w", job.ID, err)
	}
	return nil
}

// Load returns every checkpointed job definition.
func (t *TaskStore) Load(ctx context.Context) ([]*domain.ScheduledJob, error) {
	rows, err := t.db.Query(ctx, `
		SELECT task_name, schedule_cron, enabled, description, metadata
		FROM scheduled_tasks
		WHERE task_type = $1
		ORDER BY task_name
	`, taskTypeScheduledJob)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		var job domain.ScheduledJob
		var metaJSON []byte
		if err := rows.Scan(&job.ID, &job.Schedule, &job.Enabled, &job.Name, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var meta taskMetadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("decode task %s metadata: %w", job.ID, err)
		}
		job.Priority = domain.ParsePriority(meta.Priority)
		job.DependsOn = meta.DependsOn
		job.MaxRetries = meta.MaxRetries
		job.TimeoutSeconds = meta.TimeoutSeconds
		job.Resources = meta.Resources
		job.LastRun = meta.LastRun
		job.NextRun = meta.NextRun
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// SetEnabled flips the enabled flag on a checkpointed task.
func (t *TaskStore) SetEnabled(ctx context.Context, taskName string, enabled bool) error {
	res, err := t.db.Exec(ctx, `
		UPDATE scheduled_tasks SET enabled = $1 WHERE task_name = $2
	`, enabled, taskName)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskName, domain.ErrNotFound)
	}
	return nil
}
