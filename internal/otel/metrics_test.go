package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.TasksCreated == nil {
		t.Error("TasksCreated is nil")
	}
	if m.TasksAssigned == nil {
		t.Error("TasksAssigned is nil")
	}
	if m.TasksCompleted == nil {
		t.Error("TasksCompleted is nil")
	}
	if m.TasksFailed == nil {
		t.Error("TasksFailed is nil")
	}
	if m.TasksRetried == nil {
		t.Error("TasksRetried is nil")
	}
	if m.EventsPublished == nil {
		t.Error("EventsPublished is nil")
	}
	if m.EventsDropped == nil {
		t.Error("EventsDropped is nil")
	}
	if m.AgentsActive == nil {
		t.Error("AgentsActive is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns a noop meter; instruments must still create.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}

func TestMetricsHelpers_NilReceiver(t *testing.T) {
	var m *Metrics
	// Helpers must tolerate a nil Metrics so callers can skip wiring.
	m.RecordAssignment(context.Background(), "review")
	m.RecordCompletion(context.Background(), "review", "completed")
}
