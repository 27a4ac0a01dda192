package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultProbeInterval    = 30 * time.Second
)

// FallbackStore wraps a primary store with an in-memory fallback. Writes go
// through to memory unconditionally so the fallback stays warm; when the
// primary fails failureThreshold times in a row the breaker opens and the
// primary is skipped until a probe write succeeds again.
type FallbackStore struct {
	primary Store
	memory  *MemoryStore
	log     *slog.Logger

	mu               sync.Mutex
	failures         int
	failureThreshold int
	probeInterval    time.Duration
	open             bool
	lastProbe        time.Time
	now              func() time.Time
}

var _ Store = (*FallbackStore)(nil)

func NewFallbackStore(primary Store, log *slog.Logger) *FallbackStore {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackStore{
		primary:          primary,
		memory:           NewMemoryStore(),
		log:              log,
		failureThreshold: defaultFailureThreshold,
		probeInterval:    defaultProbeInterval,
		now:              time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *FallbackStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Degraded reports whether the breaker is open and writes are going to
// memory only.
func (s *FallbackStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// usePrimary decides whether this call should attempt the primary. When the
// breaker is open, every probeInterval one call is let through as a probe.
func (s *FallbackStore) usePrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return true
	}
	now := s.now()
	if now.Sub(s.lastProbe) >= s.probeInterval {
		s.lastProbe = now
		return true
	}
	return false
}

func (s *FallbackStore) recordResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		if s.open {
			s.log.Info("persistence primary recovered, closing breaker")
		}
		s.failures = 0
		s.open = false
		return
	}
	s.failures++
	if !s.open && s.failures >= s.failureThreshold {
		s.open = true
		s.lastProbe = s.now()
		s.log.Warn("persistence primary failing, degrading to memory",
			"consecutive_failures", s.failures,
			"error", err.Error())
	}
}

func (s *FallbackStore) write(ctx context.Context, memOp, primaryOp func() error) error {
	_ = memOp()
	if !s.usePrimary() {
		return nil
	}
	err := primaryOp()
	s.recordResult(err)
	if err != nil {
		s.log.Warn("persistence write failed", "error", err.Error())
	}
	return nil
}

func (s *FallbackStore) SaveAgent(ctx context.Context, snap AgentSnapshot) error {
	return s.write(ctx,
		func() error { return s.memory.SaveAgent(ctx, snap) },
		func() error { return s.primary.SaveAgent(ctx, snap) })
}

func (s *FallbackStore) DeleteAgent(ctx context.Context, id string) error {
	return s.write(ctx,
		func() error { return s.memory.DeleteAgent(ctx, id) },
		func() error { return s.primary.DeleteAgent(ctx, id) })
}

func (s *FallbackStore) SaveTask(ctx context.Context, snap TaskSnapshot) error {
	return s.write(ctx,
		func() error { return s.memory.SaveTask(ctx, snap) },
		func() error { return s.primary.SaveTask(ctx, snap) })
}

func (s *FallbackStore) DeleteTask(ctx context.Context, id string) error {
	return s.write(ctx,
		func() error { return s.memory.DeleteTask(ctx, id) },
		func() error { return s.primary.DeleteTask(ctx, id) })
}

func (s *FallbackStore) LoadAgents(ctx context.Context) ([]AgentSnapshot, error) {
	if s.usePrimary() {
		out, err := s.primary.LoadAgents(ctx)
		s.recordResult(err)
		if err == nil {
			return out, nil
		}
		s.log.Warn("persistence read failed, serving memory", "error", err.Error())
	}
	return s.memory.LoadAgents(ctx)
}

func (s *FallbackStore) LoadTasks(ctx context.Context) ([]TaskSnapshot, error) {
	if s.usePrimary() {
		out, err := s.primary.LoadTasks(ctx)
		s.recordResult(err)
		if err == nil {
			return out, nil
		}
		s.log.Warn("persistence read failed, serving memory", "error", err.Error())
	}
	return s.memory.LoadTasks(ctx)
}

func (s *FallbackStore) Close() error {
	return s.primary.Close()
}
