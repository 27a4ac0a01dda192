package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// TaskPriority orders tasks when the pending sweep picks what to assign next.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParseTaskPriority parses a priority name. Empty means medium.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown task priority %q", s)
	}
}

// TaskStatus is a task's lifecycle state. The only legal transitions are
// pending -> running -> (completed | failed | pending_retry), with
// pending_retry -> pending as the sole resurrection path.
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskPendingRetry TaskStatus = "pending_retry"
	TaskRunning      TaskStatus = "running"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one schedulable unit of work.
type Task struct {
	ID   string
	Type string

	Priority     TaskPriority
	Dependencies []string
	// AssignedTo holds the executing agent while running. When
	// HardPlacement is set it is a placement contract: the task waits for
	// that specific agent and never falls back to another.
	AssignedTo    string
	HardPlacement bool
	Timeout       time.Duration
	MaxRetries    int
	RetryCount    int

	Status   TaskStatus
	Progress float64
	Data     map[string]any
	Result   map[string]any
	Error    string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// clone returns a deep-enough copy for handing outside the orchestrator lock.
// Data and Result maps are shared; callers treat them as read-only.
func (t *Task) clone() Task {
	out := *t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	return out
}
