package monitor

import (
	"log/slog"
	"time"
)

// Expirer is the orchestrator surface the liveness monitor depends on.
type Expirer interface {
	ExpireStaleAgents(grace time.Duration) []string
}

// Liveness declares agents lost when their heartbeat goes missing for
// longer than the grace window. The grace defaults to twice the heartbeat
// interval: one missed beat is tolerated, two are not.
type Liveness struct {
	runner
}

func NewLiveness(orch Expirer, heartbeatInterval, grace time.Duration, logger *slog.Logger) *Liveness {
	if grace <= 0 {
		grace = 2 * heartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Liveness{}
	m.runner = runner{
		name:     "liveness",
		interval: heartbeatInterval,
		logger:   logger,
		check: func() {
			if lost := orch.ExpireStaleAgents(grace); len(lost) > 0 {
				logger.Warn("agents declared lost", "agent_ids", lost, "grace", grace)
			}
		},
	}
	return m
}
