package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOrch struct {
	mu           sync.Mutex
	expireCalls  int
	expireGrace  time.Duration
	overrunCalls int
	sweepCalls   int
	reapCalls    int
	reapWindow   time.Duration
}

func (f *fakeOrch) ExpireStaleAgents(grace time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCalls++
	f.expireGrace = grace
	return nil
}

func (f *fakeOrch) FailOverrunTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrunCalls++
	return nil
}

func (f *fakeOrch) SweepPending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepCalls++
	return 0
}

func (f *fakeOrch) ReapTerminalTasks(retention time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reapCalls++
	f.reapWindow = retention
	return 0
}

func (f *fakeOrch) counts() (expire, overrun, sweep, reap int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expireCalls, f.overrunCalls, f.sweepCalls, f.reapCalls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestLivenessTicksWithDefaultGrace(t *testing.T) {
	orch := &fakeOrch{}
	m := NewLiveness(orch, 10*time.Millisecond, 0, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool {
		expire, _, _, _ := orch.counts()
		return expire >= 2
	})

	orch.mu.Lock()
	grace := orch.expireGrace
	orch.mu.Unlock()
	if grace != 20*time.Millisecond {
		t.Fatalf("grace = %v, want 2x heartbeat interval", grace)
	}
}

func TestTimeoutMonitorFailsThenSweeps(t *testing.T) {
	orch := &fakeOrch{}
	m := NewTimeout(orch, 10*time.Millisecond, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool {
		_, overrun, sweep, _ := orch.counts()
		return overrun >= 1 && sweep >= 1
	})
}

func TestReaperPassesRetention(t *testing.T) {
	orch := &fakeOrch{}
	m := NewReaper(orch, nil, 10*time.Millisecond, time.Hour, time.Minute, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool {
		_, _, _, reap := orch.counts()
		return reap >= 1
	})

	orch.mu.Lock()
	window := orch.reapWindow
	orch.mu.Unlock()
	if window != time.Hour {
		t.Fatalf("retention = %v, want 1h", window)
	}
}

func TestStopWaitsForLoopExit(t *testing.T) {
	orch := &fakeOrch{}
	m := NewLiveness(orch, 5*time.Millisecond, 0, testLogger())
	m.Start(context.Background())

	waitFor(t, func() bool {
		expire, _, _, _ := orch.counts()
		return expire >= 1
	})
	m.Stop()

	expireBefore, _, _, _ := orch.counts()
	time.Sleep(30 * time.Millisecond)
	expireAfter, _, _, _ := orch.counts()
	if expireAfter != expireBefore {
		t.Fatalf("monitor ticked after Stop: %d -> %d", expireBefore, expireAfter)
	}
}
