package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client polls the gateway API for dashboard snapshots.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	started time.Time
}

// NewClient creates a dashboard client for the given gateway base URL
// (e.g. "http://127.0.0.1:18990").
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 3 * time.Second},
		started: time.Now(),
	}
}

// Snapshot fetches current state from the gateway. A fetch failure yields an
// unhealthy snapshot carrying the error rather than aborting the dashboard.
func (c *Client) Snapshot() Snapshot {
	snap := Snapshot{Uptime: time.Since(c.started)}

	var statusBody struct {
		Status struct {
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
		} `json:"status"`
		ConfigFingerprint string `json:"config_fingerprint"`
	}
	if err := c.getJSON("/api/status", &statusBody); err != nil {
		snap.LastError = err.Error()
		return snap
	}
	snap.Healthy = true
	snap.AgentsTotal = statusBody.Status.AgentsTotal
	snap.AgentsAvailable = statusBody.Status.AgentsAvailable
	snap.TasksPending = statusBody.Status.TasksPending
	snap.TasksRetrying = statusBody.Status.TasksRetrying
	snap.TasksRunning = statusBody.Status.TasksRunning
	snap.TasksCompleted = statusBody.Status.TasksCompleted
	snap.TasksFailed = statusBody.Status.TasksFailed
	snap.EventsPublished = statusBody.Status.EventsPublished
	snap.EventsDropped = statusBody.Status.EventsDropped
	snap.Subscribers = statusBody.Status.Subscribers
	snap.Fingerprint = statusBody.ConfigFingerprint

	var agentsBody struct {
		Agents []struct {
			ID          string `json:"agent_id"`
			Type        string `json:"agent_type"`
			Status      string `json:"status"`
			CurrentLoad int    `json:"current_load"`
			MaxCapacity int    `json:"max_capacity"`
		} `json:"agents"`
	}
	if err := c.getJSON("/api/agents", &agentsBody); err == nil {
		for _, a := range agentsBody.Agents {
			snap.Agents = append(snap.Agents, AgentRow{
				ID:       a.ID,
				Type:     a.Type,
				Status:   a.Status,
				Load:     a.CurrentLoad,
				Capacity: a.MaxCapacity,
			})
		}
	}

	var tasksBody struct {
		Tasks []struct {
			ID         string  `json:"task_id"`
			Type       string  `json:"task_type"`
			Status     string  `json:"status"`
			Priority   string  `json:"priority"`
			AssignedTo string  `json:"assigned_to"`
			Progress   float64 `json:"progress"`
		} `json:"tasks"`
	}
	if err := c.getJSON("/api/tasks", &tasksBody); err == nil {
		const maxRows = 15
		for i, t := range tasksBody.Tasks {
			if i >= maxRows {
				break
			}
			snap.Tasks = append(snap.Tasks, TaskRow{
				ID:       t.ID,
				Type:     t.Type,
				Status:   t.Status,
				Priority: t.Priority,
				Assigned: t.AssignedTo,
				Progress: t.Progress,
			})
		}
	}

	return snap
}

func (c *Client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
