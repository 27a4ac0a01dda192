// Package schedule fires recurring task templates on a cron cadence,
// creating orchestrator tasks for each due template.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskhive/internal/scheduler"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Template describes one recurring task.
type Template struct {
	Name       string
	Cron       string
	TaskType   string
	Priority   scheduler.TaskPriority
	Data       map[string]any
	AssignedTo string
	Timeout    time.Duration
	MaxRetries int
}

// TaskCreator is the orchestrator surface the scheduler needs.
type TaskCreator interface {
	CreateTask(req scheduler.CreateTaskRequest) (scheduler.Task, error)
}

type entry struct {
	template Template
	spec     cronlib.Schedule
	nextRun  time.Time
}

// Config holds the dependencies for the recurring-task scheduler.
type Config struct {
	Creator   TaskCreator
	Templates []Template
	Logger    *slog.Logger
	Interval  time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler ticks at a fixed interval and creates a task for every
// template whose cron expression has come due since the last check.
type Scheduler struct {
	creator  TaskCreator
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries []*entry
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates every template's cron expression up front;
// a malformed expression fails construction rather than being skipped
// silently at runtime.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		creator:  cfg.Creator,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
	for _, tmpl := range cfg.Templates {
		if tmpl.TaskType == "" {
			return nil, fmt.Errorf("schedule %q: task type must be non-empty", tmpl.Name)
		}
		spec, err := cronParser.Parse(tmpl.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: parse cron %q: %w", tmpl.Name, tmpl.Cron, err)
		}
		s.entries = append(s.entries, &entry{
			template: tmpl,
			spec:     spec,
			nextRun:  spec.Next(s.now()),
		})
	}
	return s, nil
}

// SetClock overrides the time source for tests and recomputes next runs.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	for _, e := range s.entries {
		e.nextRun = e.spec.Next(now())
	}
}

// Start begins the scheduler loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("schedule runner started", "templates", len(s.entries), "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("schedule runner stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick fires every due template once and advances its next run.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	now := s.now()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
			e.nextRun = e.spec.Next(now)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, e := range due {
		if s.fire(e.template) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(tmpl Template) bool {
	task, err := s.creator.CreateTask(scheduler.CreateTaskRequest{
		Type:       tmpl.TaskType,
		Priority:   tmpl.Priority,
		Data:       tmpl.Data,
		AssignedTo: tmpl.AssignedTo,
		Timeout:    tmpl.Timeout,
		MaxRetries: tmpl.MaxRetries,
	})
	if err != nil {
		s.logger.Error("schedule: failed to create task for template",
			"template", tmpl.Name,
			"task_type", tmpl.TaskType,
			"error", err,
		)
		return false
	}
	s.logger.Info("schedule: template fired",
		"template", tmpl.Name,
		"task_id", task.ID,
		"task_type", tmpl.TaskType,
	)
	return true
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(after), nil
}
