package scheduler

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/basket/taskhive/internal/agent"
	"github.com/basket/taskhive/internal/bus"
	"github.com/basket/taskhive/internal/persistence"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *bus.Bus, func() time.Time, func(time.Duration)) {
	t.Helper()
	reg := agent.NewRegistry()
	eventBus := bus.New()
	orch := New(reg, eventBus, Options{
		// A long backoff keeps real timers from racing the test; retries
		// are driven explicitly through retryDue.
		BaseRetryDelay: time.Hour,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(orch.Close)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	orch.SetClock(clock)
	eventBus.SetClock(clock)
	advance := func(d time.Duration) { now = now.Add(d) }
	return orch, eventBus, clock, advance
}

func mustRegister(t *testing.T, o *Orchestrator, id string, capacity int, caps ...string) {
	t.Helper()
	if _, err := o.RegisterAgent(id, "worker", caps, capacity); err != nil {
		t.Fatalf("RegisterAgent(%s): %v", id, err)
	}
}

func mustCreate(t *testing.T, o *Orchestrator, req CreateTaskRequest) Task {
	t.Helper()
	task, err := o.CreateTask(req)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func taskStatus(t *testing.T, o *Orchestrator, id string) Task {
	t.Helper()
	task, err := o.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask(%s): %v", id, err)
	}
	return task
}

func TestCreateTaskAssignsImmediately(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "code_review"})
	if task.Status != TaskRunning {
		t.Fatalf("status = %s, want running", task.Status)
	}
	if task.AssignedTo != "a1" {
		t.Fatalf("assigned_to = %q, want a1", task.AssignedTo)
	}
	if task.StartedAt.IsZero() {
		t.Fatal("started_at not set on assignment")
	}

	info, _ := o.GetAgent("a1")
	if info.CurrentLoad != 1 {
		t.Fatalf("agent load = %d, want 1", info.CurrentLoad)
	}
	if info.Status != agent.StatusBusy {
		t.Fatalf("agent status = %s, want busy", info.Status)
	}
}

func TestAssignPicksLeastLoadedAgent(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 3)
	mustRegister(t, o, "a2", 3)

	t1 := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	t2 := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	if t1.AssignedTo == t2.AssignedTo {
		t.Fatalf("both tasks on %s, want spread across least-loaded agents", t1.AssignedTo)
	}
}

func TestDependencyGateAndUnblockCascade(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	t1 := mustCreate(t, o, CreateTaskRequest{Type: "build"})
	t2 := mustCreate(t, o, CreateTaskRequest{Type: "deploy", Dependencies: []string{t1.ID}})
	if t2.Status != TaskPending {
		t.Fatalf("t2 status = %s, want pending while dependency runs", t2.Status)
	}

	if err := o.CompleteTask(t1.ID, map[string]any{"ok": true}); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got := taskStatus(t, o, t2.ID)
	if got.Status != TaskRunning {
		t.Fatalf("t2 status after cascade = %s, want running", got.Status)
	}
}

func TestCreateTaskRejectsUnknownDependency(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	_, err := o.CreateTask(CreateTaskRequest{Type: "build", Dependencies: []string{"no-such-task"}})
	if !errors.Is(err, ErrInvalidDependency) {
		t.Fatalf("err = %v, want ErrInvalidDependency", err)
	}
	if got := o.ListTasks(""); len(got) != 0 {
		t.Fatalf("tasks after rejected create = %d, want 0", len(got))
	}
}

func TestHardPlacementWaitsForNamedAgent(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "work", AssignedTo: "x"})
	if task.Status != TaskPending {
		t.Fatalf("status = %s, want pending while placement target absent", task.Status)
	}

	// The eligible a1 must not be chosen as a fallback.
	if o.SweepPending() != 0 {
		t.Fatal("sweep assigned a hard-placed task to a fallback agent")
	}

	mustRegister(t, o, "x", 1)
	got := taskStatus(t, o, task.ID)
	if got.Status != TaskRunning || got.AssignedTo != "x" {
		t.Fatalf("after target registered: status=%s assigned_to=%s, want running on x", got.Status, got.AssignedTo)
	}
}

func TestRetryBackoffThenPermanentFailure(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "flaky", MaxRetries: 2})
	if task.Status != TaskRunning {
		t.Fatalf("status = %s, want running", task.Status)
	}

	if err := o.FailTask(task.ID, "boom"); err != nil {
		t.Fatalf("FailTask 1: %v", err)
	}
	got := taskStatus(t, o, task.ID)
	if got.Status != TaskPendingRetry || got.RetryCount != 1 {
		t.Fatalf("after fail 1: status=%s retry_count=%d, want pending_retry/1", got.Status, got.RetryCount)
	}

	if err := o.FailTask(task.ID, "boom"); err != nil {
		t.Fatalf("FailTask 2: %v", err)
	}
	got = taskStatus(t, o, task.ID)
	if got.Status != TaskPendingRetry || got.RetryCount != 2 {
		t.Fatalf("after fail 2: status=%s retry_count=%d, want pending_retry/2", got.Status, got.RetryCount)
	}

	if err := o.FailTask(task.ID, "boom"); err != nil {
		t.Fatalf("FailTask 3: %v", err)
	}
	got = taskStatus(t, o, task.ID)
	if got.Status != TaskFailed {
		t.Fatalf("after fail 3: status=%s, want failed", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want capped at max_retries 2", got.RetryCount)
	}
	if got.CompletedAt.IsZero() {
		t.Fatal("completed_at not set on terminal failure")
	}

	if err := o.FailTask(task.ID, "again"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("FailTask on terminal = %v, want ErrAlreadyTerminal", err)
	}
}

func TestRetryDueReassigns(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "flaky", MaxRetries: 3})
	if err := o.FailTask(task.ID, "boom"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	o.retryDue(task.ID)
	got := taskStatus(t, o, task.ID)
	if got.Status != TaskRunning {
		t.Fatalf("status after backoff elapsed = %s, want running", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
}

func TestCancelTaskIsTerminalWithoutRetry(t *testing.T) {
	o, eventBus, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)
	subID := eventBus.Subscribe("observer", bus.Filter{Types: []bus.EventType{bus.EventTaskCancelled}})

	task := mustCreate(t, o, CreateTaskRequest{Type: "work", MaxRetries: 3})
	if err := o.CancelTask(task.ID, "no longer needed"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	got := taskStatus(t, o, task.ID)
	if got.Status != TaskFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.MaxRetries != got.RetryCount {
		t.Fatalf("max_retries = %d retry_count = %d, want retries exhausted", got.MaxRetries, got.RetryCount)
	}

	info, _ := o.GetAgent("a1")
	if info.CurrentLoad != 0 {
		t.Fatalf("agent load = %d, want 0 after cancel", info.CurrentLoad)
	}

	events, err := eventBus.Drain(subID, 10, "")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(events) != 1 || events[0].Type != bus.EventTaskCancelled {
		t.Fatalf("events = %v, want exactly one task.cancelled", events)
	}

	if err := o.CancelTask(task.ID, "again"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("CancelTask on terminal = %v, want ErrAlreadyTerminal", err)
	}
}

func TestUpdateProgressClampsAndSkipsNonRunning(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	if err := o.UpdateProgress(task.ID, 1.7, "overshoot"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if got := taskStatus(t, o, task.ID); got.Progress != 1 {
		t.Fatalf("progress = %v, want clamped to 1", got.Progress)
	}

	if err := o.CompleteTask(task.ID, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := o.UpdateProgress(task.ID, 0.5, ""); err != nil {
		t.Fatalf("UpdateProgress on completed = %v, want silent no-op", err)
	}
	if got := taskStatus(t, o, task.ID); got.Progress != 1 {
		t.Fatalf("progress after no-op = %v, want unchanged 1", got.Progress)
	}
}

func TestCompleteTaskRequiresRunning(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	task := mustCreate(t, o, CreateTaskRequest{Type: "work"}) // no agents: stays pending
	if err := o.CompleteTask(task.ID, nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("CompleteTask on pending = %v, want ErrNotRunning", err)
	}
	if err := o.CompleteTask("missing", nil); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("CompleteTask on missing = %v, want ErrTaskNotFound", err)
	}
}

func TestCompletedTaskNeverRegresses(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	if err := o.CompleteTask(task.ID, map[string]any{}); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := o.CompleteTask(task.ID, nil); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second CompleteTask = %v, want ErrAlreadyTerminal", err)
	}
	if err := o.FailTask(task.ID, "late failure"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("FailTask on completed = %v, want ErrAlreadyTerminal", err)
	}
	if got := taskStatus(t, o, task.ID); got.Status != TaskCompleted {
		t.Fatalf("status = %s, want completed to stick", got.Status)
	}
}

func TestStaleAgentTasksReassigned(t *testing.T) {
	o, _, _, advance := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	if task.AssignedTo != "a1" {
		t.Fatalf("assigned_to = %s, want a1", task.AssignedTo)
	}

	advance(3 * time.Minute)
	mustRegister(t, o, "a2", 2) // fresh heartbeat at the advanced instant

	expired := o.ExpireStaleAgents(2 * time.Minute)
	if len(expired) != 1 || expired[0] != "a1" {
		t.Fatalf("expired = %v, want [a1]", expired)
	}

	info, _ := o.GetAgent("a1")
	if info.Status != agent.StatusOffline {
		t.Fatalf("a1 status = %s, want offline", info.Status)
	}
	got := taskStatus(t, o, task.ID)
	if got.Status != TaskRunning || got.AssignedTo != "a2" {
		t.Fatalf("task after loss: status=%s assigned_to=%s, want running on a2", got.Status, got.AssignedTo)
	}

	// A second scan declares nothing new lost; it purges the offline record.
	if again := o.ExpireStaleAgents(2 * time.Minute); len(again) != 0 {
		t.Fatalf("second expiry scan = %v, want none", again)
	}
	if _, ok := o.GetAgent("a1"); ok {
		t.Fatal("a1 record still present after purge scan")
	}
}

func TestLostAgentRecordPurgedAndReRegistrable(t *testing.T) {
	o, _, _, advance := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	advance(3 * time.Minute)
	expired := o.ExpireStaleAgents(2 * time.Minute)
	if len(expired) != 1 || expired[0] != "a1" {
		t.Fatalf("expired = %v, want [a1]", expired)
	}

	// Offline pending cleanup: the id is still taken.
	if _, err := o.RegisterAgent("a1", "worker", nil, 2); !errors.Is(err, agent.ErrDuplicateAgent) {
		t.Fatalf("register while offline pending cleanup = %v, want ErrDuplicateAgent", err)
	}

	// The next pass removes the record; the id is free again.
	o.ExpireStaleAgents(2 * time.Minute)
	if _, ok := o.GetAgent("a1"); ok {
		t.Fatal("a1 record still present after purge")
	}
	if _, err := o.RegisterAgent("a1", "worker", nil, 2); err != nil {
		t.Fatalf("re-register after purge: %v", err)
	}
}

func TestPurgeOfflineKeepsHeartbeatingAgent(t *testing.T) {
	o, _, _, advance := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	// Operator parks the agent; it keeps heartbeating while offline.
	if _, err := o.UpdateAgentStatus("a1", agent.StatusOffline); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	advance(time.Minute)
	if err := o.HeartbeatAgent("a1"); err != nil {
		t.Fatalf("HeartbeatAgent: %v", err)
	}

	o.ExpireStaleAgents(2 * time.Minute)
	if _, ok := o.GetAgent("a1"); !ok {
		t.Fatal("parked agent purged despite fresh heartbeat")
	}
}

func TestFailOverrunTasksReusesRetryPolicy(t *testing.T) {
	o, _, _, advance := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "slow", Timeout: 10 * time.Second, MaxRetries: 2})
	advance(11 * time.Second)

	overrun := o.FailOverrunTasks()
	if len(overrun) != 1 || overrun[0] != task.ID {
		t.Fatalf("overrun = %v, want [%s]", overrun, task.ID)
	}
	got := taskStatus(t, o, task.ID)
	if got.Status != TaskPendingRetry || got.RetryCount != 1 {
		t.Fatalf("status=%s retry_count=%d, want pending_retry/1", got.Status, got.RetryCount)
	}
	if got.Error != "timed out" {
		t.Fatalf("error = %q, want timed out", got.Error)
	}
}

func TestSweepPendingAssignsWhenCapacityFrees(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 1)

	t1 := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	t2 := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	if t2.Status != TaskPending {
		t.Fatalf("t2 status = %s, want pending while agent full", t2.Status)
	}

	if err := o.CompleteTask(t1.ID, nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if assigned := o.SweepPending(); assigned != 1 {
		t.Fatalf("SweepPending = %d, want 1", assigned)
	}
	if got := taskStatus(t, o, t2.ID); got.Status != TaskRunning {
		t.Fatalf("t2 status after sweep = %s, want running", got.Status)
	}
}

func TestSweepPendingPrefersUrgent(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	low := mustCreate(t, o, CreateTaskRequest{Type: "work", Priority: PriorityLow})
	urgent := mustCreate(t, o, CreateTaskRequest{Type: "work", Priority: PriorityUrgent})

	mustRegister(t, o, "a1", 1) // registration sweeps pending
	if got := taskStatus(t, o, urgent.ID); got.Status != TaskRunning {
		t.Fatalf("urgent status = %s, want running first", got.Status)
	}
	if got := taskStatus(t, o, low.ID); got.Status != TaskPending {
		t.Fatalf("low status = %s, want still pending", got.Status)
	}
}

func TestUnregisterAgentReassignsHeldTasks(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)
	mustRegister(t, o, "a2", 2)

	task := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	first := task.AssignedTo
	if err := o.UnregisterAgent(first); err != nil {
		t.Fatalf("UnregisterAgent: %v", err)
	}
	got := taskStatus(t, o, task.ID)
	if got.Status != TaskRunning || got.AssignedTo == first {
		t.Fatalf("task after unregister: status=%s assigned_to=%s, want running elsewhere", got.Status, got.AssignedTo)
	}
	if _, ok := o.GetAgent(first); ok {
		t.Fatalf("agent %s still registered after unregister", first)
	}
}

func TestCapabilityRouting(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "reviewer", 2, "code_review")
	mustRegister(t, o, "deployer", 2, "deploy")

	task := mustCreate(t, o, CreateTaskRequest{Type: "deploy"})
	if task.AssignedTo != "deployer" {
		t.Fatalf("assigned_to = %s, want deployer", task.AssignedTo)
	}
}

func TestRunningTasksConsistentWithAgentWorkingSet(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 3)
	mustRegister(t, o, "a2", 3)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustCreate(t, o, CreateTaskRequest{Type: "work"}).ID)
	}
	_ = o.CompleteTask(ids[0], nil)
	_ = o.FailTask(ids[1], "boom")

	checkConsistency := func() {
		t.Helper()
		for _, task := range o.ListTasks("") {
			if task.Status != TaskRunning {
				continue
			}
			info, ok := o.GetAgent(task.AssignedTo)
			if !ok {
				t.Fatalf("running task %s assigned to unknown agent %s", task.ID, task.AssignedTo)
			}
			found := false
			for _, held := range info.CurrentTasks {
				if held == task.ID {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("running task %s missing from agent %s working set %v", task.ID, info.ID, info.CurrentTasks)
			}
		}
	}
	checkConsistency()
	_ = o.CancelTask(ids[2], "")
	checkConsistency()
}

func TestEventOrderingPerTask(t *testing.T) {
	o, eventBus, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	// Create first, then subscribe on the known task id.
	task := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	subID := eventBus.Subscribe("observer", bus.Filter{TaskID: task.ID})

	_ = o.UpdateProgress(task.ID, 0.5, "halfway")
	_ = o.CompleteTask(task.ID, map[string]any{"ok": true})

	events, err := eventBus.Drain(subID, 10, "")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []bus.EventType{bus.EventTaskProgress, bus.EventTaskCompleted}
	if len(events) != len(want) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Fatalf("events[%d].Type = %s, want %s", i, e.Type, want[i])
		}
	}
}

func TestReapTerminalKeepsReferencedDependencies(t *testing.T) {
	o, _, _, advance := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 3)

	dep := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	orphan := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	_ = o.CompleteTask(dep.ID, nil)
	_ = o.CompleteTask(orphan.ID, nil)

	// A pending task still referencing dep keeps it alive across reaping.
	waiting := mustCreate(t, o, CreateTaskRequest{
		Type:         "work",
		Dependencies: []string{dep.ID},
		AssignedTo:   "ghost", // placement target absent, stays pending
	})
	advance(2 * time.Hour)

	reaped := o.ReapTerminalTasks(time.Hour)
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if _, err := o.GetTask(orphan.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("orphan lookup = %v, want ErrTaskNotFound", err)
	}
	if _, err := o.GetTask(dep.ID); err != nil {
		t.Fatalf("referenced dependency reaped: %v", err)
	}
	if _, err := o.GetTask(waiting.ID); err != nil {
		t.Fatalf("pending task reaped: %v", err)
	}
}

func TestRestoreTasksResetsRunningToPending(t *testing.T) {
	o, _, clock, _ := newTestOrchestrator(t)

	snaps := []persistence.TaskSnapshot{
		{ID: "t-run", Type: "work", Priority: "high", Status: "running", AssignedTo: "dead-agent", RetryCount: 1, MaxRetries: 3, Data: `{"k":1}`, CreatedAt: clock()},
		{ID: "t-done", Type: "work", Priority: "medium", Status: "completed", Result: `{"ok":true}`, CreatedAt: clock(), CompletedAt: clock()},
		{ID: "t-bogus", Type: "work", Status: "exploded", CreatedAt: clock()},
	}
	if restored := o.RestoreTasks(snaps); restored != 2 {
		t.Fatalf("restored = %d, want 2", restored)
	}

	got := taskStatus(t, o, "t-run")
	if got.Status != TaskPending {
		t.Fatalf("recovered status = %s, want pending", got.Status)
	}
	if got.AssignedTo != "" {
		t.Fatalf("recovered assigned_to = %q, want cleared", got.AssignedTo)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want preserved 1", got.RetryCount)
	}

	done := taskStatus(t, o, "t-done")
	if done.Status != TaskCompleted || done.Result == nil {
		t.Fatalf("completed snapshot = %+v, want completed with result", done)
	}
}

func TestStatusSnapshotCounts(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	mustRegister(t, o, "a1", 2)

	running := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	_ = running
	t2 := mustCreate(t, o, CreateTaskRequest{Type: "work"})
	_ = o.CompleteTask(t2.ID, nil)
	mustCreate(t, o, CreateTaskRequest{Type: "work", AssignedTo: "ghost"})

	snap := o.Status()
	if snap.TasksRunning != 1 || snap.TasksCompleted != 1 || snap.TasksPending != 1 {
		t.Fatalf("snapshot = %+v, want 1 running, 1 completed, 1 pending", snap)
	}
	if snap.AgentsTotal != 1 || snap.AgentsAvailable != 1 {
		t.Fatalf("agents = %d/%d, want 1/1", snap.AgentsAvailable, snap.AgentsTotal)
	}
}
