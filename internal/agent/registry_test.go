package agent

import (
	"errors"
	"testing"
	"time"
)

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("a1", "worker", nil, 2); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := r.Register("a1", "worker", nil, 2)
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("err = %v, want ErrDuplicateAgent", err)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("", "worker", nil, 1); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := r.Register("a1", "worker", nil, 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := NewRegistry()
	info, err := r.Register("a1", "worker", []string{"build"}, 3)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if info.Status != StatusIdle {
		t.Fatalf("status = %q, want idle", info.Status)
	}
	if info.LastHeartbeat.IsZero() {
		t.Fatal("last heartbeat not set")
	}
	if info.CurrentLoad != 0 {
		t.Fatalf("load = %d, want 0", info.CurrentLoad)
	}
}

func TestRegistry_AssignRelease(t *testing.T) {
	r := NewRegistry()
	r.Register("a1", "worker", nil, 2)

	if err := r.Assign("a1", "t-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	info, _ := r.Get("a1")
	if info.CurrentLoad != 1 || info.Status != StatusBusy {
		t.Fatalf("after assign: load=%d status=%q", info.CurrentLoad, info.Status)
	}
	if len(info.CurrentTasks) != 1 || info.CurrentTasks[0] != "t-1" {
		t.Fatalf("current tasks = %v", info.CurrentTasks)
	}

	if err := r.Assign("a1", "t-2"); err != nil {
		t.Fatalf("assign second: %v", err)
	}
	if err := r.Assign("a1", "t-3"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("err = %v, want ErrAtCapacity", err)
	}

	r.Release("a1", "t-1")
	r.Release("a1", "t-2")
	info, _ = r.Get("a1")
	if info.CurrentLoad != 0 || info.Status != StatusIdle {
		t.Fatalf("after release: load=%d status=%q", info.CurrentLoad, info.Status)
	}
}

func TestRegistry_ListAvailableLeastLoaded(t *testing.T) {
	r := NewRegistry()
	r.Register("a1", "worker", nil, 3)
	r.Register("a2", "worker", nil, 3)
	r.Register("a3", "worker", nil, 3)
	r.Assign("a1", "t-1")
	r.Assign("a1", "t-2")
	r.Assign("a2", "t-3")

	got := r.ListAvailable("")
	if len(got) != 3 {
		t.Fatalf("available = %d, want 3", len(got))
	}
	if got[0].ID != "a3" || got[1].ID != "a2" || got[2].ID != "a1" {
		t.Fatalf("order = %s,%s,%s want a3,a2,a1", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRegistry_ListAvailableCapability(t *testing.T) {
	r := NewRegistry()
	r.Register("builder", "worker", []string{"build", "test"}, 1)
	r.Register("deployer", "worker", []string{"deploy"}, 1)
	r.Register("generalist", "worker", nil, 1)

	got := r.ListAvailable("build")
	if len(got) != 2 {
		t.Fatalf("available = %d, want 2 (builder + generalist)", len(got))
	}
	for _, a := range got {
		if a.ID == "deployer" {
			t.Fatal("deployer matched capability build")
		}
	}
}

func TestRegistry_EligibilityExcludesStatuses(t *testing.T) {
	r := NewRegistry()
	r.Register("a1", "worker", nil, 1)
	r.UpdateStatus("a1", StatusError)
	if got := r.ListAvailable(""); len(got) != 0 {
		t.Fatalf("error-status agent listed as available: %v", got)
	}
	r.UpdateStatus("a1", StatusBusy)
	if got := r.ListAvailable(""); len(got) != 1 {
		t.Fatalf("busy under-capacity agent not available")
	}
}

func TestRegistry_UpdateStatusRefreshesHeartbeat(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	now := base
	r.SetClock(func() time.Time { return now })

	r.Register("a1", "worker", nil, 1)
	now = base.Add(time.Minute)
	_, updated, err := r.UpdateStatus("a1", StatusIdle)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.LastHeartbeat.Equal(base.Add(time.Minute)) {
		t.Fatalf("heartbeat = %v, want refreshed", updated.LastHeartbeat)
	}
}

func TestRegistry_Stale(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	now := base
	r.SetClock(func() time.Time { return now })

	r.Register("fresh", "worker", nil, 1)
	r.Register("stale", "worker", nil, 1)

	now = base.Add(30 * time.Second)
	r.Heartbeat("fresh")

	now = base.Add(45 * time.Second)
	got := r.Stale(40 * time.Second)
	if len(got) != 1 || got[0] != "stale" {
		t.Fatalf("stale = %v, want [stale]", got)
	}
}

func TestRegistry_MarkOfflineIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("a1", "worker", nil, 2)
	r.Assign("a1", "t-1")
	r.Assign("a1", "t-2")

	held, ok := r.MarkOffline("a1")
	if !ok {
		t.Fatal("first MarkOffline returned ok=false")
	}
	if len(held) != 2 {
		t.Fatalf("held = %v, want 2 tasks", held)
	}

	// Second miss on an already-offline agent is a no-op.
	held, ok = r.MarkOffline("a1")
	if ok || held != nil {
		t.Fatalf("second MarkOffline = (%v, %v), want (nil, false)", held, ok)
	}

	info, _ := r.Get("a1")
	if info.Status != StatusOffline || info.CurrentLoad != 0 {
		t.Fatalf("offline agent: status=%q load=%d", info.Status, info.CurrentLoad)
	}
}

func TestRegistry_PurgeOffline(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	now := base
	r.SetClock(func() time.Time { return now })

	r.Register("lost", "worker", nil, 1)
	r.Register("parked", "worker", nil, 1)
	r.MarkOffline("lost")
	r.MarkOffline("parked")

	now = base.Add(90 * time.Second)
	r.Heartbeat("parked")

	purged := r.PurgeOffline(60 * time.Second)
	if len(purged) != 1 || purged[0] != "lost" {
		t.Fatalf("purged = %v, want [lost]", purged)
	}
	if _, ok := r.Get("lost"); ok {
		t.Fatal("lost record still present after purge")
	}
	if _, err := r.Register("lost", "worker", nil, 1); err != nil {
		t.Fatalf("re-register after purge: %v", err)
	}
	if _, ok := r.Get("parked"); !ok {
		t.Fatal("heartbeating offline agent purged")
	}
}

func TestRegistry_RemoveReturnsHeldTasks(t *testing.T) {
	r := NewRegistry()
	r.Register("a1", "worker", nil, 2)
	r.Assign("a1", "t-1")

	held, err := r.Remove("a1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(held) != 1 || held[0] != "t-1" {
		t.Fatalf("held = %v, want [t-1]", held)
	}
	if _, ok := r.Get("a1"); ok {
		t.Fatal("agent still present after remove")
	}
	if _, err := r.Remove("a1"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestParseStatus(t *testing.T) {
	if got, err := ParseStatus(" Idle "); err != nil || got != StatusIdle {
		t.Fatalf("ParseStatus(Idle) = %v, %v", got, err)
	}
	if _, err := ParseStatus("sleeping"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
