package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/basket/taskhive/internal/agent"
	"github.com/basket/taskhive/internal/shared"
)

// handleAgents serves POST /api/agents (register) and GET /api/agents (list).
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			AgentID      string   `json:"agent_id"`
			AgentType    string   `json:"agent_type"`
			Capabilities []string `json:"capabilities"`
			MaxCapacity  int      `json:"max_capacity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		info, err := s.cfg.Orchestrator.RegisterAgent(req.AgentID, req.AgentType, req.Capabilities, req.MaxCapacity)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		s.log.Info("agent registered via api", "agent_id", info.ID, "agent_type", info.Type)
		writeJSON(w, http.StatusCreated, renderAgent(info))

	case http.MethodGet:
		agents := s.cfg.Orchestrator.ListAgents()
		out := make([]agentJSON, 0, len(agents))
		for _, info := range agents {
			out = append(out, renderAgent(info))
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": out})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAgentByID serves /api/agents/{id} and the {id}/status and
// {id}/heartbeat subresources.
func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}
	r = r.WithContext(shared.WithAgentID(r.Context(), id))

	switch {
	case action == "" && r.Method == http.MethodGet:
		info, ok := s.cfg.Orchestrator.GetAgent(id)
		if !ok {
			s.fail(w, r, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, renderAgent(info))

	case action == "" && r.Method == http.MethodDelete:
		if err := s.cfg.Orchestrator.UnregisterAgent(id); err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unregistered": id})

	case action == "status" && r.Method == http.MethodPost:
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		status, err := agent.ParseStatus(req.Status)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		info, err := s.cfg.Orchestrator.UpdateAgentStatus(id, status)
		if err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, renderAgent(info))

	case action == "heartbeat" && r.Method == http.MethodPost:
		if err := s.cfg.Orchestrator.HeartbeatAgent(id); err != nil {
			s.fail(w, r, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
