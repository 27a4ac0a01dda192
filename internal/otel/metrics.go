package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the orchestrator's instruments. All instruments are
// created from a single meter so a no-op meter yields no-op metrics.
type Metrics struct {
	TasksCreated    metric.Int64Counter
	TasksAssigned   metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	TasksRetried    metric.Int64Counter
	EventsPublished metric.Int64Counter
	EventsDropped   metric.Int64Counter
	AgentsActive    metric.Int64UpDownCounter
	RequestDuration metric.Float64Histogram
}

// NewMetrics creates all taskhive instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("taskhive.tasks.created",
		metric.WithDescription("Tasks created"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("tasks.created: %w", err)
	}

	m.TasksAssigned, err = meter.Int64Counter("taskhive.tasks.assigned",
		metric.WithDescription("Tasks assigned to agents"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("tasks.assigned: %w", err)
	}

	m.TasksCompleted, err = meter.Int64Counter("taskhive.tasks.completed",
		metric.WithDescription("Tasks completed"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("tasks.completed: %w", err)
	}

	m.TasksFailed, err = meter.Int64Counter("taskhive.tasks.failed",
		metric.WithDescription("Tasks failed terminally"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("tasks.failed: %w", err)
	}

	m.TasksRetried, err = meter.Int64Counter("taskhive.tasks.retried",
		metric.WithDescription("Task retry attempts scheduled"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("tasks.retried: %w", err)
	}

	m.EventsPublished, err = meter.Int64Counter("taskhive.events.published",
		metric.WithDescription("Events published to the bus"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("events.published: %w", err)
	}

	m.EventsDropped, err = meter.Int64Counter("taskhive.events.dropped",
		metric.WithDescription("Events dropped from full subscriber buffers"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("events.dropped: %w", err)
	}

	m.AgentsActive, err = meter.Int64UpDownCounter("taskhive.agents.active",
		metric.WithDescription("Registered agents not offline"),
		metric.WithUnit("{agent}"))
	if err != nil {
		return nil, fmt.Errorf("agents.active: %w", err)
	}

	m.RequestDuration, err = meter.Float64Histogram("taskhive.request.duration",
		metric.WithDescription("Gateway request duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("request.duration: %w", err)
	}

	return m, nil
}

// RecordAssignment records a task assignment labelled by task type.
func (m *Metrics) RecordAssignment(ctx context.Context, taskType string) {
	if m == nil {
		return
	}
	m.TasksAssigned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("taskhive.task.type", taskType)))
}

// RecordCompletion records a terminal task outcome by status.
func (m *Metrics) RecordCompletion(ctx context.Context, taskType, status string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("taskhive.task.type", taskType),
		attribute.String("taskhive.task.status", status))
	switch status {
	case "completed":
		m.TasksCompleted.Add(ctx, 1, attrs)
	case "failed":
		m.TasksFailed.Add(ctx, 1, attrs)
	}
}
