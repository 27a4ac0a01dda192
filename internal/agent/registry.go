// Package agent tracks the pool of registered worker agents: who they are,
// what they can do, how loaded they are, and when they last proved liveness.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is an agent's lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusProcessing Status = "processing"
	StatusWaiting    Status = "waiting"
	StatusError      Status = "error"
	StatusOffline    Status = "offline"
)

// ParseStatus parses an agent status name.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusIdle, StatusBusy, StatusProcessing, StatusWaiting, StatusError, StatusOffline:
		return Status(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", fmt.Errorf("unknown agent status %q", s)
	}
}

var (
	// ErrDuplicateAgent is returned when registering an already-registered id.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrAgentNotFound is returned when an operation names an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAtCapacity is returned when assigning to a fully-loaded agent.
	ErrAtCapacity = errors.New("agent at capacity")
)

// Info is the registry's record for one worker agent.
type Info struct {
	ID            string
	Type          string
	Capabilities  []string
	MaxCapacity   int
	CurrentLoad   int
	CurrentTasks  []string
	Status        Status
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// Eligible reports whether the agent may receive new assignments.
func (a Info) Eligible() bool {
	return (a.Status == StatusIdle || a.Status == StatusBusy) && a.CurrentLoad < a.MaxCapacity
}

// HasCapability reports whether the agent declares the capability. An agent
// with no declared capabilities accepts any task type.
func (a Info) HasCapability(capability string) bool {
	if capability == "" || len(a.Capabilities) == 0 {
		return true
	}
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type record struct {
	info  Info
	tasks map[string]struct{}
}

// Registry holds agent records behind one lock. It emits no events itself;
// the orchestrator publishes after releasing registry state.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*record
	now    func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*record),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register inserts a new agent with status idle and a fresh heartbeat.
func (r *Registry) Register(id, agentType string, capabilities []string, maxCapacity int) (Info, error) {
	if strings.TrimSpace(id) == "" {
		return Info{}, fmt.Errorf("agent id must be non-empty")
	}
	if maxCapacity < 1 {
		return Info{}, fmt.Errorf("agent %q: max capacity must be >= 1, got %d", id, maxCapacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; exists {
		return Info{}, fmt.Errorf("register agent %q: %w", id, ErrDuplicateAgent)
	}
	now := r.now()
	rec := &record{
		info: Info{
			ID:            id,
			Type:          agentType,
			Capabilities:  append([]string(nil), capabilities...),
			MaxCapacity:   maxCapacity,
			Status:        StatusIdle,
			LastHeartbeat: now,
			RegisteredAt:  now,
		},
		tasks: make(map[string]struct{}),
	}
	r.agents[id] = rec
	return snapshot(rec), nil
}

// Remove deletes the agent record and returns the task ids it was holding so
// the scheduler can reassign them.
func (r *Registry) Remove(id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("remove agent %q: %w", id, ErrAgentNotFound)
	}
	held := sortedTasks(rec.tasks)
	delete(r.agents, id)
	return held, nil
}

// UpdateStatus applies a status report from the agent. The call itself is the
// heartbeat: last_heartbeat is refreshed unconditionally. Returns the old and
// new snapshots for event emission.
func (r *Registry) UpdateStatus(id string, status Status) (old, updated Info, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return Info{}, Info{}, fmt.Errorf("update agent %q: %w", id, ErrAgentNotFound)
	}
	old = snapshot(rec)
	rec.info.Status = status
	rec.info.LastHeartbeat = r.now()
	return old, snapshot(rec), nil
}

// Heartbeat refreshes last_heartbeat without changing status.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("heartbeat agent %q: %w", id, ErrAgentNotFound)
	}
	rec.info.LastHeartbeat = r.now()
	return nil
}

// MarkOffline forces the agent offline and returns the tasks it held.
// Idempotent: marking an already-offline agent is a no-op with ok=false.
func (r *Registry) MarkOffline(id string) (held []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.agents[id]
	if !exists || rec.info.Status == StatusOffline {
		return nil, false
	}
	rec.info.Status = StatusOffline
	held = sortedTasks(rec.tasks)
	rec.tasks = make(map[string]struct{})
	rec.info.CurrentLoad = 0
	return held, true
}

// PurgeOffline deletes offline agent records whose heartbeat is older than
// the grace window, freeing their ids for re-registration. An offline agent
// that still heartbeats (parked by an operator) is kept.
func (r *Registry) PurgeOffline(grace time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []string
	for id, rec := range r.agents {
		if rec.info.Status == StatusOffline && now.Sub(rec.info.LastHeartbeat) > grace {
			delete(r.agents, id)
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stale returns ids of non-offline agents whose heartbeat is older than the
// grace window.
func (r *Registry) Stale(grace time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var out []string
	for id, rec := range r.agents {
		if rec.info.Status == StatusOffline {
			continue
		}
		if now.Sub(rec.info.LastHeartbeat) > grace {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Assign adds a task to the agent's working set, incrementing load.
// Only the scheduler calls this, keeping load and current_tasks consistent.
func (r *Registry) Assign(agentID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("assign to agent %q: %w", agentID, ErrAgentNotFound)
	}
	if !rec.info.Eligible() {
		return fmt.Errorf("assign to agent %q: %w", agentID, ErrAtCapacity)
	}
	if _, dup := rec.tasks[taskID]; dup {
		return nil
	}
	rec.tasks[taskID] = struct{}{}
	rec.info.CurrentLoad = len(rec.tasks)
	if rec.info.Status == StatusIdle {
		rec.info.Status = StatusBusy
	}
	return nil
}

// Release removes a task from the agent's working set, decrementing load.
// Releasing from an unknown agent or a task not held is a no-op: the agent
// may already have been removed or marked offline.
func (r *Registry) Release(agentID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return
	}
	delete(rec.tasks, taskID)
	rec.info.CurrentLoad = len(rec.tasks)
	if rec.info.CurrentLoad == 0 && rec.info.Status == StatusBusy {
		rec.info.Status = StatusIdle
	}
}

// Get returns a snapshot of the agent, if present.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[id]
	if !ok {
		return Info{}, false
	}
	return snapshot(rec), true
}

// List returns snapshots of all agents, ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAvailable returns eligible agents for the capability, least-loaded
// first with id as the deterministic tie-break.
func (r *Registry) ListAvailable(capability string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, rec := range r.agents {
		if rec.info.Eligible() && rec.info.HasCapability(capability) {
			out = append(out, snapshot(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentLoad != out[j].CurrentLoad {
			return out[i].CurrentLoad < out[j].CurrentLoad
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns total and eligible agent counts.
func (r *Registry) Count() (total, available int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.agents {
		total++
		if rec.info.Eligible() {
			available++
		}
	}
	return total, available
}

func snapshot(rec *record) Info {
	info := rec.info
	info.Capabilities = append([]string(nil), rec.info.Capabilities...)
	info.CurrentTasks = sortedTasks(rec.tasks)
	info.CurrentLoad = len(rec.tasks)
	return info
}

func sortedTasks(tasks map[string]struct{}) []string {
	out := make([]string, 0, len(tasks))
	for id := range tasks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
