package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/basket/taskhive/internal/scheduler"
	"github.com/basket/taskhive/internal/shared"
)

// handleTasks serves POST /api/tasks (create) and GET /api/tasks?status= (list).
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TaskType       string         `json:"task_type"`
			Priority       string         `json:"priority"`
			Data           map[string]any `json:"data"`
			Dependencies   []string       `json:"dependencies"`
			AssignedTo     string         `json:"assigned_to"`
			TimeoutSeconds int            `json:"timeout_seconds"`
			MaxRetries     int            `json:"max_retries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		priority, err := scheduler.ParseTaskPriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		task, err := s.cfg.Orchestrator.CreateTask(scheduler.CreateTaskRequest{
			Type:         req.TaskType,
			Priority:     priority,
			Data:         req.Data,
			Dependencies: req.Dependencies,
			AssignedTo:   req.AssignedTo,
			Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
			MaxRetries:   req.MaxRetries,
		})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if task.Status == scheduler.TaskRunning {
			s.cfg.Metrics.RecordAssignment(r.Context(), task.Type)
		}
		s.log.Info("task created via api", "task_id", task.ID, "task_type", task.Type)
		writeJSON(w, http.StatusCreated, renderTask(task))

	case http.MethodGet:
		var status scheduler.TaskStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			status = scheduler.TaskStatus(raw)
			switch status {
			case scheduler.TaskPending, scheduler.TaskPendingRetry, scheduler.TaskRunning,
				scheduler.TaskCompleted, scheduler.TaskFailed:
			default:
				writeError(w, http.StatusBadRequest, "unknown task status "+raw)
				return
			}
		}
		tasks := s.cfg.Orchestrator.ListTasks(status)
		out := make([]taskJSON, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, renderTask(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": out})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskByID serves /api/tasks/{id} and its progress/complete/fail/cancel
// subresources.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	r = r.WithContext(shared.WithTaskID(r.Context(), id))

	if action == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		task, err := s.cfg.Orchestrator.GetTask(id)
		if err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, renderTask(task))
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "progress":
		var req struct {
			Progress float64 `json:"progress"`
			Message  string  `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.cfg.Orchestrator.UpdateProgress(id, req.Progress, req.Message); err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "complete":
		var req struct {
			Result map[string]any `json:"result"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.cfg.Orchestrator.CompleteTask(id, req.Result); err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		s.recordOutcome(r, id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "fail":
		var req struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.cfg.Orchestrator.FailTask(id, req.Error); err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		s.recordOutcome(r, id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "cancel":
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.cfg.Orchestrator.CancelTask(id, req.Reason); err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		s.recordOutcome(r, id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "unknown task action "+action)
	}
}

// recordOutcome counts the task's terminal status, labelled by type. A task
// that went to pending_retry is not terminal and is not counted.
func (s *Server) recordOutcome(r *http.Request, taskID string) {
	t, err := s.cfg.Orchestrator.GetTask(taskID)
	if err != nil {
		return
	}
	s.cfg.Metrics.RecordCompletion(r.Context(), t.Type, string(t.Status))
}
