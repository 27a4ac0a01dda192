package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestView_DisplaysTaskAndAgentCounts(t *testing.T) {
	m := model{
		snap: Snapshot{
			Healthy:         true,
			AgentsTotal:     3,
			AgentsAvailable: 2,
			TasksPending:    5,
			TasksRetrying:   1,
			TasksRunning:    2,
			TasksCompleted:  10,
			TasksFailed:     1,
			Subscribers:     4,
			Agents: []AgentRow{
				{ID: "worker-1", Type: "generic", Status: "busy", Load: 2, Capacity: 3},
			},
			Tasks: []TaskRow{
				{ID: "t1", Type: "review", Status: "running", Priority: "high", Assigned: "worker-1", Progress: 0.5},
			},
			Fingerprint: "fp-abc",
			Uptime:      10 * time.Second,
		},
	}
	view := m.View()

	for _, want := range []string{
		"5 pending",
		"1 retrying",
		"2 running",
		"10 completed",
		"1 failed",
		"3 (2 available)",
		"worker-1",
		"review",
		"fp-abc",
		"50%",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestView_ShowsUnreachableGateway(t *testing.T) {
	m := model{snap: Snapshot{Healthy: false, LastError: "connection refused"}}
	view := m.View()
	if !strings.Contains(view, "unreachable") {
		t.Errorf("expected unreachable marker, got:\n%s", view)
	}
	if !strings.Contains(view, "connection refused") {
		t.Errorf("expected last error in view, got:\n%s", view)
	}
}

func TestModel_HeadlessUpdateLoop(t *testing.T) {
	provider := func() Snapshot {
		return Snapshot{Healthy: true, AgentsTotal: 2}
	}

	m := model{provider: provider, snap: provider()}
	if m.Init() == nil {
		t.Fatal("expected Init to return a cmd")
	}

	updated, quitCmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if updated == nil {
		t.Fatal("expected non-nil model after Update")
	}
	if quitCmd == nil {
		t.Fatal("expected quit command on 'q' key")
	}

	m2 := model{provider: provider, snap: Snapshot{}}
	updated2, cmd := m2.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected tick cmd after tick message")
	}
	if !updated2.(model).snap.Healthy {
		t.Fatal("expected snapshot refreshed from provider")
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(cancelCtx, provider); err != nil && err != context.Canceled {
		t.Fatalf("expected clean exit or context.Canceled, got: %v", err)
	}
}

func TestClientSnapshotFromGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/status":
			_, _ = w.Write([]byte(`{"status":{"agents_total":2,"agents_available":1,"tasks_running":3},"config_fingerprint":"fp-1"}`))
		case "/api/agents":
			_, _ = w.Write([]byte(`{"agents":[{"agent_id":"w1","agent_type":"generic","status":"idle","current_load":0,"max_capacity":2}]}`))
		case "/api/tasks":
			_, _ = w.Write([]byte(`{"tasks":[{"task_id":"t1","task_type":"review","status":"running","priority":"medium","assigned_to":"w1","progress":0.25}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	snap := c.Snapshot()
	if !snap.Healthy {
		t.Fatalf("Healthy = false, want true (error %q)", snap.LastError)
	}
	if snap.AgentsTotal != 2 || snap.TasksRunning != 3 {
		t.Fatalf("counts = %d agents, %d running, want 2 and 3", snap.AgentsTotal, snap.TasksRunning)
	}
	if snap.Fingerprint != "fp-1" {
		t.Fatalf("Fingerprint = %q, want fp-1", snap.Fingerprint)
	}
	if len(snap.Agents) != 1 || snap.Agents[0].ID != "w1" {
		t.Fatalf("Agents = %v, want one row for w1", snap.Agents)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Progress != 0.25 {
		t.Fatalf("Tasks = %v, want one row with progress 0.25", snap.Tasks)
	}
}

func TestClientSnapshotGatewayDown(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	snap := c.Snapshot()
	if snap.Healthy {
		t.Fatal("Healthy = true, want false for unreachable gateway")
	}
	if snap.LastError == "" {
		t.Fatal("expected LastError set for unreachable gateway")
	}
}
