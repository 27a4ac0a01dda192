package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType names a kind of domain event published on the bus.
type EventType string

const (
	EventAgentRegistered    EventType = "agent.registered"
	EventAgentStatusChanged EventType = "agent.status_changed"
	EventTaskAssigned       EventType = "task.assigned"
	EventTaskProgress       EventType = "task.progress"
	EventTaskCompleted      EventType = "task.completed"
	EventTaskFailed         EventType = "task.failed"
	EventTaskCancelled      EventType = "task.cancelled"
	EventSystemNotification EventType = "system.notification"
	EventHeartbeat          EventType = "system.heartbeat"
	EventError              EventType = "system.error"
)

// Priority orders events for subscription threshold filtering.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown event priority %q", s)
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Payload is the tagged union of per-event-type payloads. Each variant
// reports its own EventType so consumers can switch exhaustively on the
// concrete type instead of poking at maps.
type Payload interface {
	EventType() EventType
}

type AgentRegisteredPayload struct {
	AgentID      string   `json:"agent_id"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities,omitempty"`
	MaxCapacity  int      `json:"max_capacity"`
}

func (AgentRegisteredPayload) EventType() EventType { return EventAgentRegistered }

type AgentStatusChangedPayload struct {
	AgentID   string `json:"agent_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Load      int    `json:"load"`
}

func (AgentStatusChangedPayload) EventType() EventType { return EventAgentStatusChanged }

type TaskAssignedPayload struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	AgentID  string          `json:"agent_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (TaskAssignedPayload) EventType() EventType { return EventTaskAssigned }

type TaskProgressPayload struct {
	TaskID   string  `json:"task_id"`
	AgentID  string  `json:"agent_id,omitempty"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

func (TaskProgressPayload) EventType() EventType { return EventTaskProgress }

type TaskCompletedPayload struct {
	TaskID  string          `json:"task_id"`
	AgentID string          `json:"agent_id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID     string `json:"task_id"`
	AgentID    string `json:"agent_id,omitempty"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	WillRetry  bool   `json:"will_retry"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

type SystemNotificationPayload struct {
	Message string `json:"message"`
}

func (SystemNotificationPayload) EventType() EventType { return EventSystemNotification }

type HeartbeatPayload struct {
	AgentID string `json:"agent_id"`
}

func (HeartbeatPayload) EventType() EventType { return EventHeartbeat }

type ErrorPayload struct {
	Message string `json:"message"`
}

func (ErrorPayload) EventType() EventType { return EventError }

// Event is an immutable fact describing a state change. Events are write-once:
// the bus hands out copies and never mutates a published event.
type Event struct {
	ID        string    `json:"event_id"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"event_type"`
	Priority  Priority  `json:"priority"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Correlation fields for subscription filtering.
	AgentID string `json:"agent_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// Expired reports whether the event's expiry has passed at the given instant.
// Events without an expiry never expire.
func (e Event) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
