package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

func testScheduler(maxConcurrent int) *Scheduler {
	return New(config.SchedulerConfig{
		MaxConcurrent:    maxConcurrent,
		CPUBudget:        4,
		MemoryBudgetMB:   4096,
		ConcurrentBudget: 8,
		LoopIntervalSecs: 1,
		ErrorBackoffSecs: 5,
	}, telemetry.NewMetrics(), nil)
}

func testJob(id string) *domain.ScheduledJob {
	return &domain.ScheduledJob{
		ID:       id,
		Name:     id,
		Schedule: ScheduleImmediate,
		Priority: domain.PriorityNormal,
		Enabled:  true,
	}
}

// drain ticks until every recorded execution for the job is terminal.
func drain(t *testing.T, s *Scheduler, jobID string) []domain.JobExecution {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		require.NoError(t, s.Tick(ctx))
		execs := s.ExecutionsForJob(jobID)
		if len(execs) == 0 || s.QueueDepth() > 0 {
			return false
		}
		for _, e := range execs {
			if !e.Status.Terminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return s.ExecutionsForJob(jobID)
}

func TestRetryBudget(t *testing.T) {
	s := testScheduler(2)
	var attempts atomic.Int32

	job := testJob("flaky")
	job.MaxRetries = 2
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}))

	_, err := s.Enqueue("flaky", nil)
	require.NoError(t, err)

	execs := drain(t, s, "flaky")
	require.Len(t, execs, 3)

	var failed, completed int
	for _, e := range execs {
		switch e.Status {
		case domain.ExecFailed:
			failed++
			assert.Equal(t, "boom", e.ErrorMessage)
		case domain.ExecCompleted:
			completed++
			assert.Equal(t, "ok", e.Result)
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, completed)

	// Only the completed attempt lands in the duration histogram; the
	// failed attempts count against the error-class counter instead.
	assert.Equal(t, 1, testutil.CollectAndCount(
		s.metrics.JobExecutionDuration, "job_execution_duration_seconds"))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(s.metrics.ErrorsTotal.WithLabelValues("internal")))
}

func TestValidationFailureDoesNotRetry(t *testing.T) {
	s := testScheduler(1)
	var attempts atomic.Int32

	job := testJob("misconfigured")
	job.MaxRetries = 3
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		attempts.Add(1)
		return nil, domain.Validationf("bad input")
	}))

	_, err := s.Enqueue("misconfigured", nil)
	require.NoError(t, err)

	execs := drain(t, s, "misconfigured")
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecFailed, execs[0].Status)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, float64(1),
		testutil.ToFloat64(s.metrics.ErrorsTotal.WithLabelValues("validation")))
}

func TestRetryDemotesPriority(t *testing.T) {
	s := testScheduler(1)
	job := testJob("demoted")
	job.MaxRetries = 1
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("always fails")
	}))

	_, err := s.Enqueue("demoted", nil)
	require.NoError(t, err)

	execs := drain(t, s, "demoted")
	require.Len(t, execs, 2)
	assert.Equal(t, domain.PriorityNormal, execs[0].Priority)
	assert.Equal(t, domain.PriorityLow, execs[1].Priority)
}

func TestRetriesExhaust(t *testing.T) {
	s := testScheduler(1)
	job := testJob("doomed")
	job.MaxRetries = 1
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("always fails")
	}))

	_, err := s.Enqueue("doomed", nil)
	require.NoError(t, err)

	execs := drain(t, s, "doomed")
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.Equal(t, domain.ExecFailed, e.Status)
	}
}

func TestMaxConcurrentZeroNeverDispatches(t *testing.T) {
	s := testScheduler(0)
	require.NoError(t, s.Register(testJob("stalled"), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}))

	for i := 0; i < 5; i++ {
		_, err := s.Enqueue("stalled", nil)
		require.NoError(t, err)
		require.NoError(t, s.Tick(context.Background()))
	}

	assert.Equal(t, 5, s.QueueDepth())
	for _, e := range s.ExecutionsForJob("stalled") {
		assert.Equal(t, domain.ExecQueued, e.Status)
	}
}

func TestDependencyGate(t *testing.T) {
	s := testScheduler(2)
	ctx := context.Background()

	require.NoError(t, s.Register(testJob("upstream"), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}))
	dependent := testJob("downstream")
	dependent.DependsOn = []string{"upstream"}
	require.NoError(t, s.Register(dependent, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}))

	_, err := s.Enqueue("downstream", nil)
	require.NoError(t, err)

	// Without a completed upstream run the execution stays queued,
	// lightly demoted each pass.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(ctx))
	}
	assert.Equal(t, 1, s.QueueDepth())

	_, err = s.Enqueue("upstream", nil)
	require.NoError(t, err)
	drain(t, s, "upstream")

	execs := drain(t, s, "downstream")
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecCompleted, execs[0].Status)
}

func TestPriorityOrderWithFIFOTies(t *testing.T) {
	s := testScheduler(1)

	var order []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context) (interface{}, error) {
			order = append(order, name)
			return nil, nil
		}
	}

	low := testJob("low")
	low.Priority = domain.PriorityLow
	first := testJob("normal-first")
	second := testJob("normal-second")
	critical := testJob("critical")
	critical.Priority = domain.PriorityCritical

	require.NoError(t, s.Register(low, record("low")))
	require.NoError(t, s.Register(first, record("normal-first")))
	require.NoError(t, s.Register(second, record("normal-second")))
	require.NoError(t, s.Register(critical, record("critical")))

	for _, id := range []string{"low", "normal-first", "normal-second", "critical"} {
		_, err := s.Enqueue(id, nil)
		require.NoError(t, err)
	}

	for _, id := range []string{"critical", "normal-first", "normal-second", "low"} {
		drain(t, s, id)
	}
	assert.Equal(t, []string{"critical", "normal-first", "normal-second", "low"}, order)
}

func TestTimeoutProducesRetryableFailure(t *testing.T) {
	s := testScheduler(1)
	job := testJob("slow")
	job.TimeoutSeconds = 1
	job.MaxRetries = 0
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := s.Enqueue("slow", nil)
	require.NoError(t, err)

	execs := drain(t, s, "slow")
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecFailed, execs[0].Status)
	assert.Equal(t, "Job timed out after 1s", execs[0].ErrorMessage)
}

func TestCancelQueued(t *testing.T) {
	s := testScheduler(0)
	require.NoError(t, s.Register(testJob("queued"), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}))

	id, err := s.Enqueue("queued", nil)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(id))

	exec, err := s.Execution(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecCancelled, exec.Status)
	assert.Zero(t, s.QueueDepth())

	// Cancelling a terminal execution conflicts.
	assert.ErrorIs(t, s.Cancel(id), domain.ErrConflict)
}

func TestCancelRunning(t *testing.T) {
	s := testScheduler(1)
	started := make(chan struct{})
	require.NoError(t, s.Register(testJob("running"), func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	id, err := s.Enqueue("running", nil)
	require.NoError(t, err)
	require.NoError(t, s.Tick(context.Background()))
	<-started

	require.NoError(t, s.Cancel(id))

	require.Eventually(t, func() bool {
		exec, err := s.Execution(id)
		return err == nil && exec.Status == domain.ExecCancelled && exec.CompletedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResourceGateSerializes(t *testing.T) {
	s := New(config.SchedulerConfig{
		MaxConcurrent:    4,
		CPUBudget:        4,
		MemoryBudgetMB:   4096,
		ConcurrentBudget: 1,
	}, telemetry.NewMetrics(), nil)

	var concurrent, peak atomic.Int32
	handler := func(ctx context.Context) (interface{}, error) {
		n := concurrent.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		concurrent.Add(-1)
		return nil, nil
	}

	for _, id := range []string{"greedy-a", "greedy-b"} {
		job := testJob(id)
		job.Resources = domain.ResourceRequirements{CPU: 1, MemoryMB: 256, ConcurrentJobs: 1}
		require.NoError(t, s.Register(job, handler))
		_, err := s.Enqueue(id, nil)
		require.NoError(t, err)
	}

	drain(t, s, "greedy-a")
	drain(t, s, "greedy-b")
	assert.Equal(t, int32(1), peak.Load())
}

func TestEnqueueUnknownJob(t *testing.T) {
	s := testScheduler(1)
	_, err := s.Enqueue("ghost", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScanFiresScheduledJobs(t *testing.T) {
	s := testScheduler(1)
	var ran atomic.Int32
	job := testJob("recurring")
	job.Schedule = "*/5 * * * *"
	require.NoError(t, s.Register(job, func(ctx context.Context) (interface{}, error) {
		ran.Add(1)
		return nil, nil
	}))

	// Force the fire time into the past and tick.
	past := time.Now().Add(-time.Minute)
	s.mu.Lock()
	s.jobs["recurring"].NextRun = &past
	s.mu.Unlock()

	drain(t, s, "recurring")
	assert.GreaterOrEqual(t, ran.Load(), int32(1))

	// next_run moved forward.
	reloaded, err := s.Job("recurring")
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextRun)
	assert.True(t, reloaded.NextRun.After(time.Now()))
	require.NotNil(t, reloaded.LastRun)
}
