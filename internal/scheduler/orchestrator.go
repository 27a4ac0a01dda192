// Package scheduler owns task state. It is the only code path that mutates
// task status and agent load, keeping the two consistent under one lock.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskhive/internal/agent"
	"github.com/basket/taskhive/internal/bus"
	"github.com/basket/taskhive/internal/persistence"
	"github.com/basket/taskhive/internal/schema"
)

var (
	// ErrTaskNotFound is returned when an operation names an unknown task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidDependency is returned when a dependency id is unknown.
	ErrInvalidDependency = errors.New("invalid dependency")
	// ErrAlreadyTerminal is returned when mutating a completed or failed task.
	ErrAlreadyTerminal = errors.New("task already terminal")
	// ErrNotRunning is returned when completing a task that is not running.
	ErrNotRunning = errors.New("task not running")
)

const (
	defaultTaskTimeout = 300 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = 5 * time.Second

	persistTimeout = 5 * time.Second
)

// Options configures an Orchestrator. Zero fields take defaults.
type Options struct {
	// BaseRetryDelay scales the linear retry backoff: retry n waits n*base.
	BaseRetryDelay time.Duration
	// DefaultTimeout applies to tasks created without an explicit timeout.
	DefaultTimeout time.Duration
	// DefaultMaxRetries applies to tasks created without an explicit limit.
	DefaultMaxRetries int
	// Store receives fire-and-forget snapshots. Nil disables persistence.
	Store persistence.Store
	// Schemas validates task payloads per task type. Nil disables validation.
	Schemas *schema.Registry
	Logger  *slog.Logger
}

// Orchestrator coordinates agents and tasks. All public operations are
// short and non-blocking; events are published after the lock is released,
// so a consumer may observe an event slightly before or after a concurrent
// read of the authoritative state.
type Orchestrator struct {
	registry *agent.Registry
	bus      *bus.Bus
	store    persistence.Store
	schemas  *schema.Registry
	log      *slog.Logger

	baseRetryDelay    time.Duration
	defaultTimeout    time.Duration
	defaultMaxRetries int

	mu          sync.Mutex
	tasks       map[string]*Task
	retryTimers map[string]*time.Timer
	closed      bool
	now         func() time.Time
}

// New constructs an Orchestrator. A nil registry or bus is a programming
// error and panics at wiring time rather than failing later.
func New(registry *agent.Registry, eventBus *bus.Bus, opts Options) *Orchestrator {
	if registry == nil || eventBus == nil {
		panic("scheduler: registry and bus are required")
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = defaultRetryDelay
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTaskTimeout
	}
	if opts.DefaultMaxRetries <= 0 {
		opts.DefaultMaxRetries = defaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		registry:          registry,
		bus:               eventBus,
		store:             opts.Store,
		schemas:           opts.Schemas,
		log:               opts.Logger,
		baseRetryDelay:    opts.BaseRetryDelay,
		defaultTimeout:    opts.DefaultTimeout,
		defaultMaxRetries: opts.DefaultMaxRetries,
		tasks:             make(map[string]*Task),
		retryTimers:       make(map[string]*time.Timer),
		now:               time.Now,
	}
}

// SetClock overrides the time source for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
	o.registry.SetClock(now)
}

// Close stops pending retry timers. In-flight state is left as is; a
// restarted process recovers it through RestoreTasks.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, timer := range o.retryTimers {
		timer.Stop()
		delete(o.retryTimers, id)
	}
}

// --- agent operations ---

// RegisterAgent adds a worker to the pool and immediately sweeps pending
// tasks, since the new agent may unblock a waiting hard placement.
func (o *Orchestrator) RegisterAgent(id, agentType string, capabilities []string, maxCapacity int) (agent.Info, error) {
	o.mu.Lock()
	info, err := o.registry.Register(id, agentType, capabilities, maxCapacity)
	if err != nil {
		o.mu.Unlock()
		return agent.Info{}, err
	}
	events := []bus.Event{{
		Type:     bus.EventAgentRegistered,
		Priority: bus.PriorityNormal,
		AgentID:  info.ID,
		Payload: bus.AgentRegisteredPayload{
			AgentID:      info.ID,
			AgentType:    info.Type,
			Capabilities: info.Capabilities,
			MaxCapacity:  info.MaxCapacity,
		},
	}}
	events = append(events, o.sweepPendingLocked()...)
	o.mu.Unlock()

	o.publish(events)
	o.persistAgent(info)
	return info, nil
}

// UnregisterAgent removes a worker. Every task it held is handed back to
// the reassignment path.
func (o *Orchestrator) UnregisterAgent(id string) error {
	o.mu.Lock()
	info, ok := o.registry.Get(id)
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unregister agent %q: %w", id, agent.ErrAgentNotFound)
	}
	held, err := o.registry.Remove(id)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	events := []bus.Event{{
		Type:     bus.EventAgentStatusChanged,
		Priority: bus.PriorityHigh,
		AgentID:  id,
		Payload: bus.AgentStatusChangedPayload{
			AgentID:   id,
			OldStatus: string(info.Status),
			NewStatus: string(agent.StatusOffline),
		},
	}}
	events = append(events, o.reassignLocked(id, held)...)
	o.mu.Unlock()

	o.publish(events)
	o.deleteAgent(id)
	return nil
}

// UpdateAgentStatus applies a status report. The call itself is the
// heartbeat: last_heartbeat is refreshed unconditionally.
func (o *Orchestrator) UpdateAgentStatus(id string, status agent.Status) (agent.Info, error) {
	o.mu.Lock()
	old, updated, err := o.registry.UpdateStatus(id, status)
	if err != nil {
		o.mu.Unlock()
		return agent.Info{}, err
	}
	events := []bus.Event{{
		Type:     bus.EventAgentStatusChanged,
		Priority: bus.PriorityNormal,
		AgentID:  id,
		Payload: bus.AgentStatusChangedPayload{
			AgentID:   id,
			OldStatus: string(old.Status),
			NewStatus: string(updated.Status),
			Load:      updated.CurrentLoad,
		},
	}}
	if updated.Eligible() {
		events = append(events, o.sweepPendingLocked()...)
	}
	o.mu.Unlock()

	o.publish(events)
	o.persistAgent(updated)
	return updated, nil
}

// HeartbeatAgent refreshes liveness without changing status.
func (o *Orchestrator) HeartbeatAgent(id string) error {
	o.mu.Lock()
	err := o.registry.Heartbeat(id)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.publish([]bus.Event{{
		Type:     bus.EventHeartbeat,
		Priority: bus.PriorityLow,
		AgentID:  id,
		Payload:  bus.HeartbeatPayload{AgentID: id},
	}})
	return nil
}

// GetAgent returns a snapshot of one agent.
func (o *Orchestrator) GetAgent(id string) (agent.Info, bool) {
	return o.registry.Get(id)
}

// ListAgents returns snapshots of every registered agent.
func (o *Orchestrator) ListAgents() []agent.Info {
	return o.registry.List()
}

// --- task operations ---

// CreateTaskRequest carries the caller-supplied attributes of a new task.
type CreateTaskRequest struct {
	Type         string
	Priority     TaskPriority
	Data         map[string]any
	Dependencies []string
	// AssignedTo, when set, is a hard placement request: the task waits
	// for that specific agent and never falls back to another.
	AssignedTo string
	Timeout    time.Duration
	MaxRetries int
}

// CreateTask inserts a pending task and immediately attempts assignment.
// Unknown dependency ids fail the call; no state is mutated.
func (o *Orchestrator) CreateTask(req CreateTaskRequest) (Task, error) {
	if req.Type == "" {
		return Task{}, fmt.Errorf("create task: type must be non-empty")
	}
	if req.MaxRetries < 0 {
		return Task{}, fmt.Errorf("create task: max retries must be >= 0, got %d", req.MaxRetries)
	}
	if o.schemas != nil {
		if err := o.schemas.Validate(req.Type, req.Data); err != nil {
			return Task{}, fmt.Errorf("create task: %w", err)
		}
	}

	o.mu.Lock()
	for _, dep := range req.Dependencies {
		if _, ok := o.tasks[dep]; !ok {
			o.mu.Unlock()
			return Task{}, fmt.Errorf("create task: dependency %q: %w", dep, ErrInvalidDependency)
		}
	}

	t := &Task{
		ID:            uuid.NewString(),
		Type:          req.Type,
		Priority:      req.Priority,
		Dependencies:  append([]string(nil), req.Dependencies...),
		AssignedTo:    req.AssignedTo,
		HardPlacement: req.AssignedTo != "",
		Timeout:       req.Timeout,
		MaxRetries:    req.MaxRetries,
		Status:        TaskPending,
		Data:          req.Data,
		CreatedAt:     o.now(),
	}
	if t.Timeout <= 0 {
		t.Timeout = o.defaultTimeout
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = o.defaultMaxRetries
	}
	o.tasks[t.ID] = t

	events := o.tryAssignLocked(t)
	out := t.clone()
	o.mu.Unlock()

	o.publish(events)
	o.persistTask(out)
	return out, nil
}

// GetTask returns a snapshot of one task.
func (o *Orchestrator) GetTask(id string) (Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("get task %q: %w", id, ErrTaskNotFound)
	}
	return t.clone(), nil
}

// ListTasks returns snapshots of every task, optionally filtered by status,
// newest first.
func (o *Orchestrator) ListTasks(status TaskStatus) []Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdateProgress records execution progress. It is a no-op for tasks that
// are not running; progress is clamped to [0,1].
func (o *Orchestrator) UpdateProgress(taskID string, progress float64, message string) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("update progress %q: %w", taskID, ErrTaskNotFound)
	}
	if t.Status != TaskRunning {
		o.mu.Unlock()
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	t.Progress = progress
	event := bus.Event{
		Type:     bus.EventTaskProgress,
		Priority: bus.PriorityLow,
		TaskID:   t.ID,
		AgentID:  t.AssignedTo,
		Payload: bus.TaskProgressPayload{
			TaskID:   t.ID,
			AgentID:  t.AssignedTo,
			Progress: progress,
			Message:  message,
		},
	}
	out := t.clone()
	o.mu.Unlock()

	o.publish([]bus.Event{event})
	o.persistTask(out)
	return nil
}

// CompleteTask marks a running task completed and re-attempts assignment of
// every task that was waiting on it.
func (o *Orchestrator) CompleteTask(taskID string, result map[string]any) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("complete task %q: %w", taskID, ErrTaskNotFound)
	}
	if t.Status.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("complete task %q: %w", taskID, ErrAlreadyTerminal)
	}
	if t.Status != TaskRunning {
		o.mu.Unlock()
		return fmt.Errorf("complete task %q in status %s: %w", taskID, t.Status, ErrNotRunning)
	}

	if result == nil {
		result = map[string]any{}
	}
	agentID := t.AssignedTo
	t.Status = TaskCompleted
	t.Progress = 1
	t.Result = result
	t.CompletedAt = o.now()
	o.registry.Release(agentID, t.ID)

	resultJSON, _ := json.Marshal(result)
	events := []bus.Event{{
		Type:     bus.EventTaskCompleted,
		Priority: bus.PriorityNormal,
		TaskID:   t.ID,
		AgentID:  agentID,
		Payload: bus.TaskCompletedPayload{
			TaskID:  t.ID,
			AgentID: agentID,
			Result:  resultJSON,
		},
	}}

	// Dependency unblock cascade: runs under the task lock so no task can
	// observe a half-updated graph.
	for _, other := range o.tasksDependingOn(t.ID) {
		events = append(events, o.tryAssignLocked(other)...)
	}
	out := t.clone()
	agentInfo, haveAgent := o.registry.Get(agentID)
	o.mu.Unlock()

	o.publish(events)
	o.persistTask(out)
	if haveAgent {
		o.persistAgent(agentInfo)
	}
	return nil
}

// FailTask records an execution failure. Below the retry limit the task
// goes to pending_retry and a re-attempt is scheduled after a linear
// backoff of retry_count * base delay; at the limit it becomes failed.
func (o *Orchestrator) FailTask(taskID, errMsg string) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("fail task %q: %w", taskID, ErrTaskNotFound)
	}
	if t.Status.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("fail task %q: %w", taskID, ErrAlreadyTerminal)
	}
	events := o.failLocked(t, errMsg)
	out := t.clone()
	o.mu.Unlock()

	o.publish(events)
	o.persistTask(out)
	return nil
}

// CancelTask stops a task that has not finished. It follows the failure
// path with retries exhausted, so a cancelled task is terminal immediately.
func (o *Orchestrator) CancelTask(taskID, reason string) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("cancel task %q: %w", taskID, ErrTaskNotFound)
	}
	if t.Status.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("cancel task %q: %w", taskID, ErrAlreadyTerminal)
	}
	if reason == "" {
		reason = "cancelled"
	}
	if timer, ok := o.retryTimers[t.ID]; ok {
		timer.Stop()
		delete(o.retryTimers, t.ID)
	}
	if t.AssignedTo != "" {
		o.registry.Release(t.AssignedTo, t.ID)
	}
	t.MaxRetries = t.RetryCount
	t.Status = TaskFailed
	t.Error = reason
	t.CompletedAt = o.now()
	event := bus.Event{
		Type:     bus.EventTaskCancelled,
		Priority: bus.PriorityNormal,
		TaskID:   t.ID,
		Payload: bus.TaskCancelledPayload{
			TaskID: t.ID,
			Reason: reason,
		},
	}
	out := t.clone()
	o.mu.Unlock()

	o.publish([]bus.Event{event})
	o.persistTask(out)
	return nil
}

// ReassignAgentTasks resets every running task held by the given agent to
// pending and re-attempts assignment. The hard placement contract is
// cleared: a lost agent cannot re-claim its tasks by re-registering with
// the same id mid-flight.
func (o *Orchestrator) ReassignAgentTasks(agentID string) []string {
	o.mu.Lock()
	var held []string
	for _, t := range o.tasks {
		if t.Status == TaskRunning && t.AssignedTo == agentID {
			held = append(held, t.ID)
		}
	}
	sort.Strings(held)
	events := o.reassignLocked(agentID, held)
	snaps := make([]Task, 0, len(held))
	for _, id := range held {
		snaps = append(snaps, o.tasks[id].clone())
	}
	o.mu.Unlock()

	o.publish(events)
	for _, snap := range snaps {
		o.persistTask(snap)
	}
	return held
}

// SweepPending re-attempts assignment of every pending task. Capacity and
// dependency misses are normal outcomes, so the sweep runs cheaply on a
// periodic cadence.
func (o *Orchestrator) SweepPending() int {
	o.mu.Lock()
	events := o.sweepPendingLocked()
	o.mu.Unlock()
	o.publish(events)

	assigned := 0
	for _, e := range events {
		if e.Type == bus.EventTaskAssigned {
			assigned++
		}
	}
	return assigned
}

// ExpireStaleAgents marks every agent whose heartbeat is older than the
// grace window offline and reassigns its tasks. Records already offline
// from a previous pass are removed outright, freeing their ids for
// re-registration; until then a duplicate register still conflicts.
func (o *Orchestrator) ExpireStaleAgents(grace time.Duration) []string {
	o.mu.Lock()
	purged := o.registry.PurgeOffline(grace)
	stale := o.registry.Stale(grace)
	var events []bus.Event
	var expired []string
	for _, id := range purged {
		events = append(events, bus.Event{
			Type:     bus.EventSystemNotification,
			Priority: bus.PriorityNormal,
			AgentID:  id,
			Payload: bus.SystemNotificationPayload{
				Message: fmt.Sprintf("agent %s removed after missed heartbeats", id),
			},
		})
	}
	for _, id := range stale {
		info, _ := o.registry.Get(id)
		held, ok := o.registry.MarkOffline(id)
		if !ok {
			continue
		}
		expired = append(expired, id)
		events = append(events, bus.Event{
			Type:     bus.EventAgentStatusChanged,
			Priority: bus.PriorityHigh,
			AgentID:  id,
			Payload: bus.AgentStatusChangedPayload{
				AgentID:   id,
				OldStatus: string(info.Status),
				NewStatus: string(agent.StatusOffline),
			},
		})
		events = append(events, o.reassignLocked(id, held)...)
	}
	o.mu.Unlock()

	o.publish(events)
	if len(purged) > 0 {
		o.log.Info("offline agent records purged", "agent_ids", purged)
	}
	for _, id := range purged {
		o.deleteAgent(id)
	}
	for _, id := range expired {
		if info, ok := o.registry.Get(id); ok {
			o.persistAgent(info)
		}
	}
	return expired
}

// FailOverrunTasks fails every running task that has exceeded its timeout,
// reusing the ordinary retry policy: a hung task gets the same number of
// retries as one that errors.
func (o *Orchestrator) FailOverrunTasks() []string {
	o.mu.Lock()
	now := o.now()
	var overrun []*Task
	for _, t := range o.tasks {
		if t.Status == TaskRunning && now.Sub(t.StartedAt) > t.Timeout {
			overrun = append(overrun, t)
		}
	}
	sort.Slice(overrun, func(i, j int) bool { return overrun[i].ID < overrun[j].ID })

	var events []bus.Event
	ids := make([]string, 0, len(overrun))
	snaps := make([]Task, 0, len(overrun))
	for _, t := range overrun {
		ids = append(ids, t.ID)
		events = append(events, o.failLocked(t, "timed out")...)
		snaps = append(snaps, t.clone())
	}
	o.mu.Unlock()

	o.publish(events)
	for _, snap := range snaps {
		o.persistTask(snap)
	}
	return ids
}

// ReapTerminalTasks deletes terminal tasks older than the retention window.
// A completed task still referenced as a dependency of a live task is kept
// so the dependency gate can keep answering.
func (o *Orchestrator) ReapTerminalTasks(retention time.Duration) int {
	o.mu.Lock()
	cutoff := o.now().Add(-retention)
	referenced := make(map[string]struct{})
	for _, t := range o.tasks {
		if t.Status.Terminal() {
			continue
		}
		for _, dep := range t.Dependencies {
			referenced[dep] = struct{}{}
		}
	}
	var reaped []string
	for id, t := range o.tasks {
		if !t.Status.Terminal() || t.CompletedAt.IsZero() || t.CompletedAt.After(cutoff) {
			continue
		}
		if _, ok := referenced[id]; ok {
			continue
		}
		delete(o.tasks, id)
		if timer, ok := o.retryTimers[id]; ok {
			timer.Stop()
			delete(o.retryTimers, id)
		}
		reaped = append(reaped, id)
	}
	o.mu.Unlock()

	for _, id := range reaped {
		o.deleteTask(id)
	}
	return len(reaped)
}

// RestoreTasks seeds the task store from persisted snapshots at boot.
// Tasks that were running when the process died restart as pending: the
// assignment they held is gone with the process.
func (o *Orchestrator) RestoreTasks(snaps []persistence.TaskSnapshot) int {
	o.mu.Lock()
	restored := 0
	for _, snap := range snaps {
		if snap.ID == "" {
			continue
		}
		t := &Task{
			ID:           snap.ID,
			Type:         snap.Type,
			Status:       TaskStatus(snap.Status),
			Dependencies: append([]string(nil), snap.Dependencies...),
			RetryCount:   snap.RetryCount,
			MaxRetries:   snap.MaxRetries,
			Progress:     snap.Progress,
			Error:        snap.Error,
			Timeout:      time.Duration(snap.TimeoutSeconds) * time.Second,
			CreatedAt:    snap.CreatedAt,
			StartedAt:    snap.StartedAt,
			CompletedAt:  snap.CompletedAt,
		}
		if p, err := ParseTaskPriority(snap.Priority); err == nil {
			t.Priority = p
		}
		if t.Timeout <= 0 {
			t.Timeout = o.defaultTimeout
		}
		if snap.Data != "" {
			_ = json.Unmarshal([]byte(snap.Data), &t.Data)
		}
		if snap.Result != "" {
			_ = json.Unmarshal([]byte(snap.Result), &t.Result)
		}
		switch t.Status {
		case TaskRunning, TaskPendingRetry:
			t.Status = TaskPending
			t.AssignedTo = ""
			t.StartedAt = time.Time{}
		case TaskPending, TaskCompleted, TaskFailed:
		default:
			o.log.Warn("skipping snapshot with unknown status",
				"task_id", snap.ID, "status", snap.Status)
			continue
		}
		o.tasks[t.ID] = t
		restored++
	}
	o.mu.Unlock()
	if restored > 0 {
		o.log.Info("restored tasks from store", "count", restored)
	}
	return restored
}

// Snapshot is a point-in-time summary of orchestrator state.
type Snapshot struct {
	AgentsTotal     int    `json:"agents_total"`
	AgentsAvailable int    `json:"agents_available"`
	TasksPending    int    `json:"tasks_pending"`
	TasksRetrying   int    `json:"tasks_retrying"`
	TasksRunning    int    `json:"tasks_running"`
	TasksCompleted  int    `json:"tasks_completed"`
	TasksFailed     int    `json:"tasks_failed"`
	EventsPublished uint64 `json:"events_published"`
	EventsDropped   uint64 `json:"events_dropped"`
	Subscribers     int    `json:"subscribers"`
}

// Status returns current counters for dashboards and metrics.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	var snap Snapshot
	for _, t := range o.tasks {
		switch t.Status {
		case TaskPending:
			snap.TasksPending++
		case TaskPendingRetry:
			snap.TasksRetrying++
		case TaskRunning:
			snap.TasksRunning++
		case TaskCompleted:
			snap.TasksCompleted++
		case TaskFailed:
			snap.TasksFailed++
		}
	}
	o.mu.Unlock()

	snap.AgentsTotal, snap.AgentsAvailable = o.registry.Count()
	snap.EventsPublished, snap.EventsDropped = o.bus.Stats()
	snap.Subscribers = o.bus.SubscriberCount()
	return snap
}

// --- internals (o.mu held) ---

// tryAssignLocked attempts to place a pending task. Unmet dependencies,
// an ineligible hard placement target, and an empty agent pool are all
// normal outcomes that leave the task pending.
func (o *Orchestrator) tryAssignLocked(t *Task) []bus.Event {
	if t.Status != TaskPending {
		return nil
	}
	for _, dep := range t.Dependencies {
		d, ok := o.tasks[dep]
		if !ok || d.Status != TaskCompleted {
			return nil
		}
	}

	var target string
	if t.HardPlacement {
		info, ok := o.registry.Get(t.AssignedTo)
		if !ok || !info.Eligible() || !info.HasCapability(t.Type) {
			// The placement is a contract: no fallback agent is chosen.
			return nil
		}
		target = t.AssignedTo
	} else {
		available := o.registry.ListAvailable(t.Type)
		if len(available) == 0 {
			return nil
		}
		target = available[0].ID
	}

	if err := o.registry.Assign(target, t.ID); err != nil {
		return nil
	}
	t.Status = TaskRunning
	t.AssignedTo = target
	t.StartedAt = o.now()
	t.Error = ""

	dataJSON, _ := json.Marshal(t.Data)
	return []bus.Event{{
		Type:     bus.EventTaskAssigned,
		Priority: bus.PriorityNormal,
		TaskID:   t.ID,
		AgentID:  target,
		Payload: bus.TaskAssignedPayload{
			TaskID:   t.ID,
			TaskType: t.Type,
			AgentID:  target,
			Data:     dataJSON,
		},
	}}
}

// failLocked applies the retry policy to a non-terminal task.
func (o *Orchestrator) failLocked(t *Task, errMsg string) []bus.Event {
	agentID := t.AssignedTo
	if agentID != "" {
		o.registry.Release(agentID, t.ID)
	}

	willRetry := t.RetryCount < t.MaxRetries
	if willRetry {
		t.RetryCount++
		t.Status = TaskPendingRetry
		t.Error = errMsg
		t.StartedAt = time.Time{}
		if !t.HardPlacement {
			t.AssignedTo = ""
		}
		delay := time.Duration(t.RetryCount) * o.baseRetryDelay
		o.scheduleRetryLocked(t.ID, delay)
	} else {
		t.Status = TaskFailed
		t.Error = errMsg
		t.CompletedAt = o.now()
	}

	priority := bus.PriorityHigh
	if !willRetry {
		priority = bus.PriorityCritical
	}
	return []bus.Event{{
		Type:     bus.EventTaskFailed,
		Priority: priority,
		TaskID:   t.ID,
		AgentID:  agentID,
		Payload: bus.TaskFailedPayload{
			TaskID:     t.ID,
			AgentID:    agentID,
			Error:      errMsg,
			RetryCount: t.RetryCount,
			MaxRetries: t.MaxRetries,
			WillRetry:  willRetry,
		},
	}}
}

func (o *Orchestrator) scheduleRetryLocked(taskID string, delay time.Duration) {
	if o.closed {
		return
	}
	if timer, ok := o.retryTimers[taskID]; ok {
		timer.Stop()
	}
	o.retryTimers[taskID] = time.AfterFunc(delay, func() {
		o.retryDue(taskID)
	})
}

// retryDue fires when a pending_retry backoff elapses.
func (o *Orchestrator) retryDue(taskID string) {
	o.mu.Lock()
	delete(o.retryTimers, taskID)
	t, ok := o.tasks[taskID]
	if !ok || t.Status != TaskPendingRetry {
		o.mu.Unlock()
		return
	}
	t.Status = TaskPending
	events := o.tryAssignLocked(t)
	out := t.clone()
	o.mu.Unlock()

	o.publish(events)
	o.persistTask(out)
}

// reassignLocked resets the given running tasks to pending and re-attempts
// assignment. Called after an agent is removed or declared lost.
func (o *Orchestrator) reassignLocked(agentID string, taskIDs []string) []bus.Event {
	var events []bus.Event
	for _, id := range taskIDs {
		t, ok := o.tasks[id]
		if !ok || t.Status != TaskRunning || t.AssignedTo != agentID {
			continue
		}
		t.Status = TaskPending
		t.AssignedTo = ""
		t.HardPlacement = false
		t.StartedAt = time.Time{}
		t.Progress = 0
		events = append(events, o.tryAssignLocked(t)...)
	}
	return events
}

// sweepPendingLocked tries every pending task, most urgent first, oldest
// first within a priority.
func (o *Orchestrator) sweepPendingLocked() []bus.Event {
	var pending []*Task
	for _, t := range o.tasks {
		if t.Status == TaskPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	var events []bus.Event
	for _, t := range pending {
		events = append(events, o.tryAssignLocked(t)...)
	}
	return events
}

// tasksDependingOn returns live tasks whose dependency set includes id,
// in deterministic order.
func (o *Orchestrator) tasksDependingOn(id string) []*Task {
	var out []*Task
	for _, t := range o.tasks {
		if t.Status != TaskPending {
			continue
		}
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- collaborators (called outside o.mu) ---

func (o *Orchestrator) publish(events []bus.Event) {
	for _, e := range events {
		o.bus.Publish(e)
	}
}

// persistTask writes a snapshot, fire and forget. A failing store degrades
// durability, never a scheduling decision.
func (o *Orchestrator) persistTask(t Task) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.SaveTask(ctx, taskSnapshot(t)); err != nil {
		o.log.Warn("persist task failed", "task_id", t.ID, "error", err.Error())
	}
}

func (o *Orchestrator) deleteTask(id string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.DeleteTask(ctx, id); err != nil {
		o.log.Warn("delete persisted task failed", "task_id", id, "error", err.Error())
	}
}

func (o *Orchestrator) persistAgent(info agent.Info) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	snap := persistence.AgentSnapshot{
		ID:           info.ID,
		Type:         info.Type,
		Capabilities: info.Capabilities,
		Status:       string(info.Status),
		MaxCapacity:  info.MaxCapacity,
		CurrentLoad:  info.CurrentLoad,
		UpdatedAt:    info.LastHeartbeat,
	}
	if err := o.store.SaveAgent(ctx, snap); err != nil {
		o.log.Warn("persist agent failed", "agent_id", info.ID, "error", err.Error())
	}
}

func (o *Orchestrator) deleteAgent(id string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.DeleteAgent(ctx, id); err != nil {
		o.log.Warn("delete persisted agent failed", "agent_id", id, "error", err.Error())
	}
}

func taskSnapshot(t Task) persistence.TaskSnapshot {
	dataJSON, _ := json.Marshal(t.Data)
	var resultJSON string
	if t.Result != nil {
		raw, _ := json.Marshal(t.Result)
		resultJSON = string(raw)
	}
	return persistence.TaskSnapshot{
		ID:             t.ID,
		Type:           t.Type,
		Priority:       t.Priority.String(),
		Status:         string(t.Status),
		AssignedTo:     t.AssignedTo,
		Dependencies:   t.Dependencies,
		RetryCount:     t.RetryCount,
		MaxRetries:     t.MaxRetries,
		Progress:       t.Progress,
		Data:           string(dataJSON),
		Result:         resultJSON,
		Error:          t.Error,
		TimeoutSeconds: int(t.Timeout / time.Second),
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
	}
}
