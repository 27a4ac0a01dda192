package monitor

import (
	"log/slog"
	"time"
)

// Overruns is the orchestrator surface the timeout monitor depends on.
type Overruns interface {
	FailOverrunTasks() []string
	SweepPending() int
}

// Timeout fails running tasks that blow their per-task timeout and then
// sweeps pending tasks so freed capacity is used on the same tick. Timed
// out tasks go through the ordinary retry policy, so a hung task gets the
// same retries as one that errors.
type Timeout struct {
	runner
}

func NewTimeout(orch Overruns, interval time.Duration, logger *slog.Logger) *Timeout {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Timeout{}
	m.runner = runner{
		name:     "timeout",
		interval: interval,
		logger:   logger,
		check: func() {
			if overrun := orch.FailOverrunTasks(); len(overrun) > 0 {
				logger.Warn("tasks timed out", "task_ids", overrun)
			}
			orch.SweepPending()
		},
	}
	return m
}
