package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobPriority orders executions in the scheduler queue. Lower values
// dispatch first.
type JobPriority int

const (
	PriorityCritical   JobPriority = 0
	PriorityHigh       JobPriority = 1
	PriorityNormal     JobPriority = 2
	PriorityLow        JobPriority = 3
	PriorityBackground JobPriority = 4
)

var priorityNames = map[JobPriority]string{
	PriorityCritical:   "critical",
	PriorityHigh:       "high",
	PriorityNormal:     "normal",
	PriorityLow:        "low",
	PriorityBackground: "background",
}

func (p JobPriority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "background"
}

// ParsePriority maps a priority name to its value; unknown names map to
// normal.
func ParsePriority(s string) JobPriority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityNormal
}

// Demote lowers the priority one step, clamping at background. Retries
// and dependency re-queues use this so demotion never runs off the scale.
func (p JobPriority) Demote() JobPriority {
	if p >= PriorityBackground {
		return PriorityBackground
	}
	return p + 1
}

// ResourceRequirements declares what an execution consumes from the
// scheduler's fixed budget while running.
type ResourceRequirements struct {
	CPU            float64 `json:"cpu"`
	MemoryMB       int     `json:"memory_mb"`
	ConcurrentJobs int     `json:"concurrent_jobs"`
}

// ScheduledJob is a registered unit of recurring or on-demand work.
type ScheduledJob struct {
	ID             string               `json:"job_id"`
	Name           string               `json:"name"`
	Schedule       string               `json:"schedule"`
	Priority       JobPriority          `json:"priority"`
	DependsOn      []string             `json:"depends_on,omitempty"`
	MaxRetries     int                  `json:"max_retries"`
	TimeoutSeconds int                  `json:"timeout_seconds,omitempty"`
	Resources      ResourceRequirements `json:"resource_requirements"`
	Enabled        bool                 `json:"enabled"`
	LastRun        *time.Time           `json:"last_run,omitempty"`
	NextRun        *time.Time           `json:"next_run,omitempty"`
}

// ExecutionStatus enumerates the lifecycle of one job execution.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecQueued    ExecutionStatus = "queued"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// JobExecution is a single attempt at running a job.
type JobExecution struct {
	ID           uuid.UUID       `json:"execution_id"`
	JobID        string          `json:"job_id"`
	Status       ExecutionStatus `json:"status"`
	Priority     JobPriority     `json:"priority"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       interface{}     `json:"result,omitempty"`
}
