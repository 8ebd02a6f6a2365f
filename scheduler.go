// Package taskforge scheduler core.
// Wraps the underlying cron engine (engine.go) with the
// register/unregister/list/next-run contract the facade (facade.go)
// drives. There is no timer loop of its own — robfig/cron/v3 owns the
// single timer loop.
package taskforge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskResolver is the slice of the task registry the scheduler
// core needs: resolve a task type to its runnable descriptor and
// validate that a parameter set satisfies it.
type TaskResolver interface {
	Resolve(taskType string) (*TaskDescriptor, bool)
	ValidateParameters(taskType string, params map[string]interface{}) error
}

// Dispatcher is called by the scheduler core every time an entry
// fires. Its job is to actually run (or enqueue) the task; the
// scheduler core itself never executes task bodies.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry ScheduledFire)
}

// ScheduledFire is what the scheduler core hands the dispatcher on
// each firing.
type ScheduledFire struct {
	ScheduleID string
	ConfigID   int64
	TaskType   string
	Parameters map[string]interface{}
	Labels     map[string]string
}

// schedulerEntry is the scheduler core's bookkeeping record for one
// registered schedule_id.
type schedulerEntry struct {
	scheduleID string
	configID   int64
	taskType   string
	taskName   string
	schedule   string // cron expression, or RFC3339 instant for DATE
	scheduler  SchedulerType
	labels     map[string]string
	engineID   cron.EntryID
}

// Scheduler translates task configs into live engine entries and
// tracks them by schedule_id.
type Scheduler struct {
	engine     CronEngine
	resolver   TaskResolver
	dispatcher Dispatcher
	logger     *Logger

	mu      sync.RWMutex
	entries map[string]*schedulerEntry
}

// NewScheduler constructs the scheduler core. dispatcher may be nil
// until a worker dispatch is wired in (dispatch.go); registrations
// still succeed, but firings are dropped.
func NewScheduler(engine CronEngine, resolver TaskResolver, dispatcher Dispatcher, logger *Logger) *Scheduler {
	if logger == nil {
		logger = NewLogger("Scheduler")
	}
	return &Scheduler{
		engine:     engine,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger,
		entries:    make(map[string]*schedulerEntry),
	}
}

// Initialize starts the underlying cron engine.
func (s *Scheduler) Initialize() {
	s.engine.Start()
}

// Shutdown stops the underlying cron engine.
func (s *Scheduler) Shutdown() {
	s.engine.Stop()
}

// Register resolves taskConfig's task type, validates its parameters,
// builds (or reuses, for resume) a schedule_id, and submits it to the
// engine. MANUAL configs are refused — callers must not register a
// manual-only config.
func (s *Scheduler) Register(ctx context.Context, cfg *TaskConfig, forceScheduleID string) (string, error) {
	if cfg.SchedulerType == SchedulerManual {
		return "", NewValidationError("manual configs are not registered with the scheduler", map[string]interface{}{"config_id": cfg.ID})
	}

	desc, ok := s.resolver.Resolve(cfg.TaskType)
	if !ok {
		return "", NewNotFoundError(fmt.Sprintf("task type %q is not registered", cfg.TaskType))
	}
	if err := s.resolver.ValidateParameters(cfg.TaskType, cfg.Parameters); err != nil {
		return "", err
	}

	scheduleID := forceScheduleID
	if scheduleID == "" {
		scheduleID = BuildScheduleID(cfg.ID)
	}

	labels := map[string]string{
		"config_id":   fmt.Sprintf("%d", cfg.ID),
		"task_type":   cfg.TaskType,
		"schedule_id": scheduleID,
	}

	fire := func() {
		s.mu.RLock()
		entry, ok := s.entries[scheduleID]
		s.mu.RUnlock()
		if !ok || s.dispatcher == nil {
			return
		}
		s.dispatcher.Dispatch(context.Background(), ScheduledFire{
			ScheduleID: scheduleID,
			ConfigID:   cfg.ID,
			TaskType:   cfg.TaskType,
			Parameters: cfg.Parameters,
			Labels:     entry.labels,
		})
	}

	var engineID cron.EntryID
	var err error
	var scheduleRepr string

	// s.mu is held until the entry is recorded: an AddAt instant already
	// in the past fires on the engine's next tick, possibly before AddAt
	// returns, and fire must find the entry when it runs.
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cfg.SchedulerType {
	case SchedulerCron:
		expr := cfg.CronExpression()
		if expr == "" {
			return "", NewValidationError("CRON scheduler_type requires schedule_config.cron_expression", nil)
		}
		if _, perr := ParseCronExpr(expr); perr != nil {
			return "", perr
		}
		engineID, err = s.engine.AddCron(expr, fire)
		scheduleRepr = expr
	case SchedulerDate:
		runAt := cfg.RunAt()
		if runAt.IsZero() {
			return "", NewValidationError("DATE scheduler_type requires a valid schedule_config.run_at", nil)
		}
		engineID, err = s.engine.AddAt(runAt, fire)
		scheduleRepr = runAt.UTC().Format(time.RFC3339)
	default:
		return "", NewValidationError(fmt.Sprintf("unknown scheduler_type %q", cfg.SchedulerType), nil)
	}
	if err != nil {
		return "", err
	}

	s.entries[scheduleID] = &schedulerEntry{
		scheduleID: scheduleID,
		configID:   cfg.ID,
		taskType:   cfg.TaskType,
		taskName:   desc.Name,
		schedule:   scheduleRepr,
		scheduler:  cfg.SchedulerType,
		labels:     labels,
		engineID:   engineID,
	}

	return scheduleID, nil
}

// Unregister removes scheduleID from the engine. Missing ids are not
// an error.
func (s *Scheduler) Unregister(scheduleID string) {
	s.mu.Lock()
	entry, ok := s.entries[scheduleID]
	if ok {
		delete(s.entries, scheduleID)
	}
	s.mu.Unlock()

	if ok {
		s.engine.Remove(entry.engineID)
	}
}

// ListAll returns every live schedule entry with the engine's next run
// time. EngineEntry carries no config_id; callers recover it from
// ScheduleID with ParseScheduleID.
func (s *Scheduler) ListAll() []EngineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EngineEntry, 0, len(s.entries))
	for _, e := range s.entries {
		cronEntry, _ := s.engine.Entry(e.engineID)
		out = append(out, EngineEntry{
			ScheduleID: e.scheduleID,
			TaskName:   e.taskName,
			Schedule:   e.schedule,
			Labels:     e.labels,
			NextRun:    cronEntry.Next,
		})
	}
	return out
}

// IsPresent reports whether scheduleID has a live entry (a map lookup).
func (s *Scheduler) IsPresent(scheduleID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[scheduleID]
	return ok
}

// NextRunTime computes the next firing for a live entry: for CRON, one
// step forward from now using the expression; for DATE, the configured
// instant, or the zero time if it has already passed.
func (s *Scheduler) NextRunTime(scheduleID string) (time.Time, bool) {
	s.mu.RLock()
	entry, ok := s.entries[scheduleID]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}

	switch entry.scheduler {
	case SchedulerCron:
		ce, err := ParseCronExpr(entry.schedule)
		if err != nil {
			return time.Time{}, false
		}
		return ce.NextRun(time.Now().UTC()), true
	case SchedulerDate:
		at, err := time.Parse(time.RFC3339, entry.schedule)
		if err != nil {
			return time.Time{}, false
		}
		if at.Before(time.Now().UTC()) {
			return time.Time{}, true
		}
		return at, true
	default:
		return time.Time{}, false
	}
}
