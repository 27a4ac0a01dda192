// Package persistence snapshots orchestrator state to a document store.
// The orchestrator treats every call as fire-and-forget: a failing store
// degrades durability, never scheduling.
package persistence

import (
	"context"
	"time"
)

// AgentSnapshot is the persisted shape of one agent record.
type AgentSnapshot struct {
	ID           string
	Type         string
	Capabilities []string
	Status       string
	MaxCapacity  int
	CurrentLoad  int
	UpdatedAt    time.Time
}

// TaskSnapshot is the persisted shape of one task record.
type TaskSnapshot struct {
	ID             string
	Type           string
	Priority       string
	Status         string
	AssignedTo     string
	Dependencies   []string
	RetryCount     int
	MaxRetries     int
	Progress       float64
	Data           string
	Result         string
	Error          string
	TimeoutSeconds int
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Store is the persistence collaborator contract. Implementations:
// SQLiteStore (durable), MemoryStore (in-memory), and FallbackStore
// (circuit breaker demoting durable to memory on repeated failure).
type Store interface {
	SaveAgent(ctx context.Context, snap AgentSnapshot) error
	DeleteAgent(ctx context.Context, id string) error
	SaveTask(ctx context.Context, snap TaskSnapshot) error
	DeleteTask(ctx context.Context, id string) error
	LoadAgents(ctx context.Context) ([]AgentSnapshot, error)
	LoadTasks(ctx context.Context) ([]TaskSnapshot, error)
	Close() error
}
