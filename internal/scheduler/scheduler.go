// Package scheduler is a cooperative priority scheduler with dependency
// resolution, resource accounting, timeouts and bounded retries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

// HandlerFunc is the unit of work behind a registered job. The returned
// value is stored on the execution record.
type HandlerFunc func(ctx context.Context) (interface{}, error)

// Scheduler dispatches job executions from a priority queue under a
// fixed resource budget. Dispatch decisions are single-threaded; the
// handlers themselves run concurrently.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*domain.ScheduledJob
	handlers map[string]HandlerFunc
	queue    *queue

	executions map[uuid.UUID]*domain.JobExecution
	cancels    map[uuid.UUID]context.CancelFunc

	// consecutive failures per job since the last success, for retry
	// budgeting.
	failStreak map[string]int
	// jobs that have at least one completed execution, for dependency
	// gating.
	completed map[string]bool

	budget    domain.ResourceRequirements
	usedCPU   float64
	usedMem   int
	usedSlots int

	runningCount  int
	maxConcurrent int

	loopInterval time.Duration
	errorBackoff time.Duration

	metrics *telemetry.Metrics
	tasks   *TaskStore

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler from config. tasks may be nil to disable
// checkpointing.
func New(cfg config.SchedulerConfig, metrics *telemetry.Metrics, tasks *TaskStore) *Scheduler {
	return &Scheduler{
		jobs:       make(map[string]*domain.ScheduledJob),
		handlers:   make(map[string]HandlerFunc),
		queue:      newQueue(),
		executions: make(map[uuid.UUID]*domain.JobExecution),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
		failStreak: make(map[string]int),
		completed:  make(map[string]bool),
		budget: domain.ResourceRequirements{
			CPU:            cfg.CPUBudget,
			MemoryMB:       cfg.MemoryBudgetMB,
			ConcurrentJobs: cfg.ConcurrentBudget,
		},
		maxConcurrent: cfg.MaxConcurrent,
		loopInterval:  time.Duration(cfg.LoopIntervalSecs) * time.Second,
		errorBackoff:  time.Duration(cfg.ErrorBackoffSecs) * time.Second,
		metrics:       metrics,
		tasks:         tasks,
	}
}

// Register adds a job and its handler. The first fire time is computed
// from the schedule immediately; registration replaces any previous
// definition under the same id. Registration is in-memory only; Restore
// merges and persists checkpointed state.
func (s *Scheduler) Register(job *domain.ScheduledJob, handler HandlerFunc) error {
	if job.ID == "" {
		return domain.Validationf("job id is required")
	}
	if handler == nil {
		return domain.Validationf("job %s has no handler", job.ID)
	}

	next := NextRun(job.Schedule, time.Now())
	job.NextRun = &next

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.handlers[job.ID] = handler
	s.mu.Unlock()
	return nil
}

// Restore overlays checkpointed state onto registered jobs and writes
// the merged definitions back, so last_run/next_run and operator
// enabled toggles survive restarts. The checkpointed enabled flag is
// the ops control plane and wins over the registration default. Call
// after registration, before Start.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.tasks == nil {
		return nil
	}
	saved, err := s.tasks.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, cp := range saved {
		job, ok := s.jobs[cp.ID]
		if !ok {
			continue
		}
		job.Enabled = cp.Enabled
		if cp.LastRun != nil {
			job.LastRun = cp.LastRun
		}
		// A stale next_run fires on the first scan, catching up the
		// missed schedule. Ignore it when the schedule changed.
		if cp.NextRun != nil && cp.Schedule == job.Schedule {
			job.NextRun = cp.NextRun
		}
	}
	snapshot := make([]domain.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot = append(snapshot, *job)
	}
	s.mu.Unlock()

	for i := range snapshot {
		if err := s.tasks.Save(ctx, &snapshot[i]); err != nil {
			return fmt.Errorf("checkpoint %s: %w", snapshot[i].ID, err)
		}
	}
	return nil
}

// SetJobEnabled flips recurring fires for a registered job and
// checkpoints the change.
func (s *Scheduler) SetJobEnabled(ctx context.Context, jobID string, enabled bool) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	job.Enabled = enabled
	if enabled && job.NextRun == nil {
		next := NextRun(job.Schedule, time.Now())
		job.NextRun = &next
	}
	cp := *job
	s.mu.Unlock()

	if s.tasks != nil {
		err := s.tasks.SetEnabled(ctx, jobID, enabled)
		if domain.IsNotFound(err) {
			err = s.tasks.Save(ctx, &cp)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Enqueue queues one execution immediately, bypassing the schedule.
// priority overrides the job's registered priority when non-nil.
func (s *Scheduler) Enqueue(jobID string, priority *domain.JobPriority) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return uuid.Nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	p := job.Priority
	if priority != nil {
		p = *priority
	}
	return s.enqueueLocked(job, p), nil
}

func (s *Scheduler) enqueueLocked(job *domain.ScheduledJob, priority domain.JobPriority) uuid.UUID {
	exec := &domain.JobExecution{
		ID:         uuid.New(),
		JobID:      job.ID,
		Status:     domain.ExecQueued,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}
	s.executions[exec.ID] = exec
	s.queue.push(exec, priority)
	s.observeQueueDepth()
	return exec.ID
}

// Execution returns a copy of the execution record.
func (s *Scheduler) Execution(id uuid.UUID) (*domain.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	cp := *exec
	return &cp, nil
}

// ExecutionsForJob returns copies of every execution recorded for the
// job, oldest first.
func (s *Scheduler) ExecutionsForJob(jobID string) []domain.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobExecution
	for _, exec := range s.executions {
		if exec.JobID == jobID {
			out = append(out, *exec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

// Job returns a copy of the registered job definition.
func (s *Scheduler) Job(id string) (*domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

// Cancel transitions a queued or running execution to cancelled. Queued
// executions leave the heap; running ones are marked and their context
// cancelled, relying on the handler to observe it.
func (s *Scheduler) Cancel(executionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}

	switch exec.Status {
	case domain.ExecQueued:
		s.queue.remove(executionID)
		now := time.Now().UTC()
		exec.Status = domain.ExecCancelled
		exec.CompletedAt = &now
		s.observeQueueDepth()
		s.countTerminal(exec)
		return nil
	case domain.ExecRunning:
		exec.Status = domain.ExecCancelled
		if cancel, ok := s.cancels[executionID]; ok {
			cancel()
		}
		return nil
	default:
		return fmt.Errorf("execution %s already %s: %w", executionID, exec.Status, domain.ErrConflict)
	}
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logger.Info("scheduler starting",
		"max_concurrent", s.maxConcurrent,
		"cpu_budget", s.budget.CPU,
		"memory_budget_mb", s.budget.MemoryMB)

	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and waits for in-flight handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		sleep := s.loopInterval
		if err := s.Tick(s.ctx); err != nil {
			logger.Error("scheduler tick failed", "error", err)
			sleep = s.errorBackoff
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Tick runs one scan-and-dispatch pass. Exposed so tests and callers
// can drive the scheduler without the loop.
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	fired := s.scanLocked(time.Now().UTC())
	s.dispatchLocked(ctx)
	s.mu.Unlock()
	s.checkpointFired(ctx, fired)
	return nil
}

// scanLocked enqueues every enabled job whose next fire time has
// arrived, then recomputes next_run from now. Immediate jobs fire once.
// Returns copies of the fired jobs for checkpointing outside the lock.
func (s *Scheduler) scanLocked(now time.Time) []domain.ScheduledJob {
	var fired []domain.ScheduledJob
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRun == nil || job.NextRun.After(now) {
			continue
		}
		s.enqueueLocked(job, job.Priority)
		at := now
		job.LastRun = &at
		if job.Schedule == ScheduleImmediate {
			job.NextRun = nil
		} else {
			next := NextRun(job.Schedule, now)
			job.NextRun = &next
		}
		fired = append(fired, *job)
	}
	return fired
}

// checkpointFired re-saves last_run/next_run after a scan fire.
func (s *Scheduler) checkpointFired(ctx context.Context, fired []domain.ScheduledJob) {
	if s.tasks == nil {
		return
	}
	for i := range fired {
		if err := s.tasks.Save(ctx, &fired[i]); err != nil {
			logger.Warn("job checkpoint failed", "job_id", fired[i].ID, "error", err)
		}
	}
}

// dispatchLocked drains the queue while concurrency, dependency and
// resource gates allow. Gated executions are re-queued after the pass
// so they cannot spin the drain loop.
func (s *Scheduler) dispatchLocked(ctx context.Context) {
	type deferred struct {
		exec     *domain.JobExecution
		priority domain.JobPriority
	}
	var requeue []deferred

	for s.runningCount < s.maxConcurrent {
		exec, priority, ok := s.queue.pop()
		if !ok {
			break
		}
		if exec.Status != domain.ExecQueued {
			continue
		}
		job, ok := s.jobs[exec.JobID]
		if !ok {
			s.failLocked(exec, "job definition removed")
			continue
		}

		if !s.depsSatisfiedLocked(job) {
			// Lightly demoted so the next pass retries it without
			// starving other work.
			requeue = append(requeue, deferred{exec, priority.Demote()})
			continue
		}
		if !s.resourcesFitLocked(job.Resources) {
			requeue = append(requeue, deferred{exec, priority})
			continue
		}

		s.allocateLocked(job.Resources)
		s.runningCount++
		s.startLocked(ctx, job, exec)
	}

	for _, d := range requeue {
		s.queue.push(d.exec, d.priority)
	}
	s.observeQueueDepth()
}

func (s *Scheduler) depsSatisfiedLocked(job *domain.ScheduledJob) bool {
	for _, dep := range job.DependsOn {
		if !s.completed[dep] {
			return false
		}
	}
	return true
}

func (s *Scheduler) resourcesFitLocked(req domain.ResourceRequirements) bool {
	return s.usedCPU+req.CPU <= s.budget.CPU &&
		s.usedMem+req.MemoryMB <= s.budget.MemoryMB &&
		s.usedSlots+req.ConcurrentJobs <= s.budget.ConcurrentJobs
}

func (s *Scheduler) allocateLocked(req domain.ResourceRequirements) {
	s.usedCPU += req.CPU
	s.usedMem += req.MemoryMB
	s.usedSlots += req.ConcurrentJobs
}

func (s *Scheduler) releaseLocked(req domain.ResourceRequirements) {
	s.usedCPU -= req.CPU
	s.usedMem -= req.MemoryMB
	s.usedSlots -= req.ConcurrentJobs
}

// startLocked marks the execution running and launches its handler.
func (s *Scheduler) startLocked(ctx context.Context, job *domain.ScheduledJob, exec *domain.JobExecution) {
	now := time.Now().UTC()
	exec.Status = domain.ExecRunning
	exec.StartedAt = &now

	var execCtx context.Context
	var cancel context.CancelFunc
	if job.TimeoutSeconds > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	s.cancels[exec.ID] = cancel

	handler := s.handlers[job.ID]
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := handler(execCtx)
		s.finish(job, exec, result, err, execCtx.Err())
	}()
}

// finish records the terminal state, releases resources and applies the
// retry policy.
func (s *Scheduler) finish(job *domain.ScheduledJob, exec *domain.JobExecution, result interface{}, err, ctxErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	exec.CompletedAt = &now
	delete(s.cancels, exec.ID)
	s.releaseLocked(job.Resources)
	s.runningCount--

	// Cancel() may have marked the execution while the handler was
	// still observing its context.
	if exec.Status == domain.ExecCancelled {
		s.countTerminal(exec)
		return
	}

	switch {
	case err == nil:
		exec.Status = domain.ExecCompleted
		exec.Result = result
		s.completed[job.ID] = true
		s.failStreak[job.ID] = 0
		s.countTerminal(exec)
		if s.metrics != nil && exec.StartedAt != nil {
			s.metrics.JobExecutionDuration.
				WithLabelValues(job.ID, string(domain.ExecCompleted)).
				Observe(now.Sub(*exec.StartedAt).Seconds())
		}

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded):
		exec.Status = domain.ExecFailed
		exec.ErrorMessage = fmt.Sprintf("Job timed out after %ds", job.TimeoutSeconds)
		s.countTerminal(exec)
		s.countError(domain.ErrTimeout)
		s.retryLocked(job, exec)

	case errors.Is(err, context.Canceled) || errors.Is(ctxErr, context.Canceled):
		exec.Status = domain.ExecCancelled
		exec.ErrorMessage = domain.ErrCancelled.Error()
		s.countTerminal(exec)

	default:
		exec.Status = domain.ExecFailed
		exec.ErrorMessage = err.Error()
		s.countTerminal(exec)
		s.countError(err)
		if domain.IsRetriable(err) {
			s.retryLocked(job, exec)
		} else {
			logger.Warn("job failed on a non-retriable error",
				"job_id", job.ID, "error", err)
		}
	}
}

// retryLocked enqueues another attempt while the failure streak is
// within the job's retry budget, demoted one priority step.
func (s *Scheduler) retryLocked(job *domain.ScheduledJob, exec *domain.JobExecution) {
	s.failStreak[job.ID]++
	streak := s.failStreak[job.ID]
	if streak > job.MaxRetries {
		logger.Warn("job out of retries",
			"job_id", job.ID, "failures", streak, "max_retries", job.MaxRetries)
		return
	}
	logger.Info("job retry queued",
		"job_id", job.ID, "retry", streak, "priority", exec.Priority.Demote().String())
	s.enqueueLocked(job, exec.Priority.Demote())
}

func (s *Scheduler) countTerminal(exec *domain.JobExecution) {
	if s.metrics != nil {
		s.metrics.JobExecutions.WithLabelValues(exec.JobID, string(exec.Status)).Inc()
	}
}

func (s *Scheduler) countError(err error) {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(domain.ErrorClass(err)).Inc()
	}
}

// failLocked terminally fails an execution outside the handler path.
func (s *Scheduler) failLocked(exec *domain.JobExecution, msg string) {
	now := time.Now().UTC()
	exec.Status = domain.ExecFailed
	exec.ErrorMessage = msg
	exec.CompletedAt = &now
	s.countTerminal(exec)
	s.countError(errors.New(msg))
}

func (s *Scheduler) observeQueueDepth() {
	if s.metrics != nil {
		s.metrics.JobQueueDepth.Set(float64(s.queue.len()))
	}
}

// QueueDepth reports the number of queued executions.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}
