package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

func setupTaskStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewTaskStore(database.NewFromConns(db, nil)), mock, func() { db.Close() }
}

func TestTaskStoreSave(t *testing.T) {
	store, mock, cleanup := setupTaskStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO scheduled_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &domain.ScheduledJob{
		ID:         "etl_health",
		Name:       "ETL health probe",
		Schedule:   "hourly",
		Priority:   domain.PriorityHigh,
		MaxRetries: 2,
		Enabled:    true,
	}
	require.NoError(t, store.Save(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreLoadRoundTripsMetadata(t *testing.T) {
	store, mock, cleanup := setupTaskStore(t)
	defer cleanup()

	meta := []byte(`{"priority":"high","depends_on":["refresh_metrics_daily"],"max_retries":2,"timeout_seconds":300,"resource_requirements":{"cpu":1,"memory_mb":512,"concurrent_jobs":1}}`)
	mock.ExpectQuery("SELECT(.+)FROM scheduled_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"task_name", "schedule_cron", "enabled", "description", "metadata"}).
			AddRow("pipeline_alerts", "daily", true, "Deal pipeline alerting", meta))

	jobs, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "pipeline_alerts", job.ID)
	assert.Equal(t, domain.PriorityHigh, job.Priority)
	assert.Equal(t, []string{"refresh_metrics_daily"}, job.DependsOn)
	assert.Equal(t, 2, job.MaxRetries)
	assert.Equal(t, 300, job.TimeoutSeconds)
	assert.Equal(t, 512, job.Resources.MemoryMB)
}

func TestTaskStoreSetEnabledUnknownTask(t *testing.T) {
	store, mock, cleanup := setupTaskStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE scheduled_tasks").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetEnabled(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func checkpointScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock, func()) {
	t.Helper()
	store, mock, cleanup := setupTaskStore(t)
	s := New(config.SchedulerConfig{
		MaxConcurrent:    2,
		CPUBudget:        4,
		MemoryBudgetMB:   4096,
		ConcurrentBudget: 8,
	}, telemetry.NewMetrics(), store)
	return s, mock, cleanup
}

func TestRestoreOverlaysCheckpointedState(t *testing.T) {
	s, mock, cleanup := checkpointScheduler(t)
	defer cleanup()

	job := &domain.ScheduledJob{
		ID:       "etl_health",
		Name:     "ETL health probe",
		Schedule: "hourly",
		Priority: domain.PriorityHigh,
		Enabled:  true,
	}
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}))

	// Checkpoint from a previous process: the operator disabled the job
	// and it last fired two hours ago.
	lastRun := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	nextRun := lastRun.Add(time.Hour)
	meta := []byte(`{"priority":"high","max_retries":0,` +
		`"resource_requirements":{"cpu":0,"memory_mb":0,"concurrent_jobs":0},` +
		`"last_run":"` + lastRun.Format(time.RFC3339) + `",` +
		`"next_run":"` + nextRun.Format(time.RFC3339) + `"}`)
	mock.ExpectQuery("SELECT(.+)FROM scheduled_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"task_name", "schedule_cron", "enabled", "description", "metadata"}).
			AddRow("etl_health", "hourly", false, "ETL health probe", meta))
	mock.ExpectExec("INSERT INTO scheduled_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Restore(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	restored, err := s.Job("etl_health")
	require.NoError(t, err)
	assert.False(t, restored.Enabled, "checkpointed enabled flag wins")
	require.NotNil(t, restored.LastRun)
	assert.True(t, restored.LastRun.Equal(lastRun))
	require.NotNil(t, restored.NextRun)
	assert.True(t, restored.NextRun.Equal(nextRun))
}

func TestTickCheckpointsFiredJobs(t *testing.T) {
	s, mock, cleanup := checkpointScheduler(t)
	defer cleanup()

	job := &domain.ScheduledJob{
		ID:       "refresh_metrics_daily",
		Schedule: "daily",
		Priority: domain.PriorityNormal,
		Enabled:  true,
	}
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}))

	past := time.Now().Add(-time.Minute)
	s.mu.Lock()
	s.jobs["refresh_metrics_daily"].NextRun = &past
	s.mu.Unlock()

	mock.ExpectExec("INSERT INTO scheduled_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	fired, err := s.Job("refresh_metrics_daily")
	require.NoError(t, err)
	require.NotNil(t, fired.LastRun)
	assert.True(t, fired.NextRun.After(time.Now()))
}
