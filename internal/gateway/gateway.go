// Package gateway exposes the orchestrator over HTTP: a JSON REST API for
// agent and task lifecycle plus two event delivery adapters, pull (bounded
// long-poll) and push (SSE stream). Both adapters drain the same per-
// subscription buffers on the bus.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/taskhive/internal/agent"
	"github.com/basket/taskhive/internal/bus"
	"github.com/basket/taskhive/internal/otel"
	"github.com/basket/taskhive/internal/scheduler"
	"github.com/basket/taskhive/internal/shared"
)

const (
	defaultPollWait  = 25 * time.Second
	defaultKeepalive = 15 * time.Second
	maxPollEvents    = 500
)

// Config wires the gateway to the rest of the system.
type Config struct {
	Orchestrator *scheduler.Orchestrator
	Bus          *bus.Bus

	// AuthToken guards all endpoints except /healthz. Empty disables auth
	// (local single-user deployments).
	AuthToken string

	// PollWait bounds how long /api/events/poll blocks waiting for events.
	PollWait time.Duration
	// Keepalive is the SSE comment-ping interval on /api/events/stream.
	Keepalive time.Duration

	// ConfigFingerprint is the hash of the active config, echoed in /api/status.
	ConfigFingerprint string

	Metrics *otel.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New creates a gateway server. Orchestrator and Bus are required.
func New(cfg Config) *Server {
	if cfg.Orchestrator == nil || cfg.Bus == nil {
		panic("gateway: orchestrator and bus are required")
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = defaultPollWait
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = defaultKeepalive
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log}
}

// Handler returns the routing mux for the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentByID)

	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskByID)

	mux.HandleFunc("/api/events/subscribe", s.handleSubscribe)
	mux.HandleFunc("/api/events/unsubscribe", s.handleUnsubscribe)
	mux.HandleFunc("/api/events/poll", s.handlePoll)
	mux.HandleFunc("/api/events/stream", s.handleStream)

	return s.instrument(mux)
}

// instrument threads a trace id through every request and records durations
// when metrics are wired. The original ResponseWriter passes through
// untouched so SSE flushing keeps working.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get("X-Trace-ID"))
		if traceID == "" {
			traceID = shared.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", traceID)
		r = r.WithContext(shared.WithTraceID(r.Context(), traceID))

		start := time.Now()
		next.ServeHTTP(w, r)
		elapsed := time.Since(start)

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(r.Context(), elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("http.route", r.URL.Path),
					attribute.String("http.method", r.Method)))
		}
		s.log.Debug("request handled",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", elapsed.Milliseconds(), "trace_id", traceID)
	})
}

// authorize validates the bearer token. An empty configured token disables
// auth entirely.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token != "" && token == s.cfg.AuthToken
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	snap := s.cfg.Orchestrator.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             snap,
		"config_fingerprint": s.cfg.ConfigFingerprint,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	snap := s.cfg.Orchestrator.Status()
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"agents_total":     snap.AgentsTotal,
		"agents_available": snap.AgentsAvailable,
		"tasks_pending":    snap.TasksPending,
		"tasks_retrying":   snap.TasksRetrying,
		"tasks_running":    snap.TasksRunning,
		"tasks_completed":  snap.TasksCompleted,
		"tasks_failed":     snap.TasksFailed,
		"events_published": snap.EventsPublished,
		"events_dropped":   snap.EventsDropped,
		"subscribers":      snap.Subscribers,
		"alloc_bytes":      mem.Alloc,
		"goroutines":       runtime.NumGoroutine(),
	})
}

// --- JSON rendering ---

type agentJSON struct {
	ID            string    `json:"agent_id"`
	Type          string    `json:"agent_type"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	MaxCapacity   int       `json:"max_capacity"`
	CurrentLoad   int       `json:"current_load"`
	CurrentTasks  []string  `json:"current_tasks,omitempty"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}

func renderAgent(info agent.Info) agentJSON {
	return agentJSON{
		ID:            info.ID,
		Type:          info.Type,
		Capabilities:  info.Capabilities,
		MaxCapacity:   info.MaxCapacity,
		CurrentLoad:   info.CurrentLoad,
		CurrentTasks:  info.CurrentTasks,
		Status:        string(info.Status),
		LastHeartbeat: info.LastHeartbeat,
		RegisteredAt:  info.RegisteredAt,
	}
}

type taskJSON struct {
	ID           string         `json:"task_id"`
	Type         string         `json:"task_type"`
	Priority     string         `json:"priority"`
	Status       string         `json:"status"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Progress     float64        `json:"progress"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Data         map[string]any `json:"data,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

func renderTask(t scheduler.Task) taskJSON {
	out := taskJSON{
		ID:           t.ID,
		Type:         t.Type,
		Priority:     t.Priority.String(),
		Status:       string(t.Status),
		AssignedTo:   t.AssignedTo,
		Dependencies: t.Dependencies,
		Progress:     t.Progress,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		Data:         t.Data,
		Result:       t.Result,
		Error:        t.Error,
		CreatedAt:    t.CreatedAt,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		out.StartedAt = &started
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// fail logs the error with whatever scope identifiers the request context
// carries, then writes the JSON error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	ctx := r.Context()
	attrs := []any{"status", status, "path", r.URL.Path, "trace_id", shared.TraceID(ctx)}
	if id := shared.AgentID(ctx); id != "" {
		attrs = append(attrs, "agent_id", id)
	}
	if id := shared.TaskID(ctx); id != "" {
		attrs = append(attrs, "task_id", id)
	}
	if id := shared.ClientID(ctx); id != "" {
		attrs = append(attrs, "client_id", id)
	}
	s.log.Warn(msg, attrs...)
	writeError(w, status, msg)
}

// statusFor maps orchestrator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound), errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrAlreadyTerminal), errors.Is(err, scheduler.ErrNotRunning),
		errors.Is(err, agent.ErrDuplicateAgent):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
