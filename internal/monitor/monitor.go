// Package monitor runs the background checks that keep the orchestrator
// honest: heartbeat liveness, task timeouts, the pending sweep, terminal
// reaping, and idle subscription cleanup. Each monitor talks to the
// orchestrator only through its public operations; none reach into
// internal state.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// runner is the shared tick loop. Each monitor wraps one with its own check.
type runner struct {
	name     string
	interval time.Duration
	check    func()
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start begins the monitor loop in a background goroutine.
func (r *runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("monitor started", "monitor", r.name, "interval", r.interval)
}

// Stop cancels the loop and waits for it to exit.
func (r *runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("monitor stopped", "monitor", r.name)
}

func (r *runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check()
		}
	}
}
