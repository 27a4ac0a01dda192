package monitor

import (
	"log/slog"
	"time"
)

// Reapers is the orchestrator and bus surface the cleanup monitor uses.
type Reapers interface {
	ReapTerminalTasks(retention time.Duration) int
}

// IdleSweeper drops subscriptions nobody has drained recently.
type IdleSweeper interface {
	SweepIdle(idleTimeout time.Duration) int
}

// Reaper removes terminal tasks after a retention window and drops idle
// event subscriptions.
type Reaper struct {
	runner
}

func NewReaper(orch Reapers, sweeper IdleSweeper, interval, retention, idleTimeout time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Reaper{}
	m.runner = runner{
		name:     "reaper",
		interval: interval,
		logger:   logger,
		check: func() {
			if n := orch.ReapTerminalTasks(retention); n > 0 {
				logger.Info("reaped terminal tasks", "count", n, "retention", retention)
			}
			if sweeper != nil {
				if n := sweeper.SweepIdle(idleTimeout); n > 0 {
					logger.Info("dropped idle subscriptions", "count", n, "idle_timeout", idleTimeout)
				}
			}
		},
	}
	return m
}
