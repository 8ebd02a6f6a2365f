// Package taskforge scheduler facade.
// Drives the lifecycle state machine a schedule_id moves through:
// register, pause, resume, unregister, plus the reconciliation sweeps
// that keep the live engine, the Redis state store, and the database
// of record from drifting apart.
package taskforge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConfigProvider is the slice of the task config repository the
// facade needs: fetch one config fresh (resume never trusts the Redis
// snapshot) and list every non-MANUAL config (for
// ensure_default_instances/find_orphans).
type ConfigProvider interface {
	GetByID(ctx context.Context, configID int64) (*TaskConfig, error)
	ListSchedulable(ctx context.Context) ([]*TaskConfig, error)
}

// Facade drives the schedule lifecycle state machine. Lifecycle calls
// on the same schedule_id are serialized through a per-id mutex pool;
// calls on different ids run concurrently.
type Facade struct {
	scheduler *Scheduler
	store     *ScheduleStore
	configs   ConfigProvider
	logger    *Logger

	locks sync.Map // schedule_id -> *sync.Mutex
}

func (f *Facade) lockSchedule(scheduleID string) func() {
	m, _ := f.locks.LoadOrStore(scheduleID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// NewFacade wires the facade over the scheduler core, the schedule
// state store, and a config provider.
func NewFacade(scheduler *Scheduler, store *ScheduleStore, configs ConfigProvider, logger *Logger) *Facade {
	if logger == nil {
		logger = NewLogger("Facade")
	}
	return &Facade{scheduler: scheduler, store: store, configs: configs, logger: logger}
}

// Register runs the register path: (1) scheduler.Register; (2) index;
// (3) meta; (4) task_registered event; (5) status ACTIVE. A (1)
// failure aborts before any Redis write. A failure in (2)-(5) triggers
// a best-effort compensating unregister and surfaces both errors.
func (f *Facade) Register(ctx context.Context, cfg *TaskConfig) (string, error) {
	scheduleID, err := f.scheduler.Register(ctx, cfg, "")
	if err != nil {
		return "", err
	}

	if err := f.afterRegister(ctx, cfg, scheduleID); err != nil {
		f.scheduler.Unregister(scheduleID)
		if compErr := f.store.PurgeArtifacts(ctx, scheduleID); compErr != nil {
			return "", &CompensationError{Primary: err, Compensation: compErr}
		}
		return "", err
	}
	return scheduleID, nil
}

func (f *Facade) afterRegister(ctx context.Context, cfg *TaskConfig, scheduleID string) error {
	if err := f.store.AddToIndex(ctx, cfg.ID, scheduleID); err != nil {
		return err
	}
	meta := &ScheduleMeta{
		ScheduleID:     scheduleID,
		ConfigID:       cfg.ID,
		TaskType:       cfg.TaskType,
		Parameters:     cfg.Parameters,
		ScheduleConfig: cfg.ScheduleConfig,
		ScheduleRule:   scheduleRule(cfg),
		RegisteredAt:   time.Now().UTC(),
	}
	if err := f.store.SetMeta(ctx, scheduleID, meta); err != nil {
		return err
	}
	if err := f.store.AddEvent(ctx, scheduleID, ScheduleEvent{Type: "task_registered", At: time.Now().UTC(), Data: map[string]interface{}{"config_id": cfg.ID}}); err != nil {
		return err
	}
	if err := f.store.SetStatus(ctx, scheduleID, StatusActive); err != nil {
		return err
	}
	return nil
}

// Unregister runs the unregister path: recover config_id from meta
// (falling back to parsing schedule_id), remove from the engine,
// remove from the index, purge artifacts. Idempotent — a missing
// schedule_id is not an error.
func (f *Facade) Unregister(ctx context.Context, scheduleID string) error {
	defer f.lockSchedule(scheduleID)()

	configID, _ := f.resolveConfigID(ctx, scheduleID)

	f.scheduler.Unregister(scheduleID)

	if configID != 0 {
		if err := f.store.RemoveFromIndex(ctx, configID, scheduleID); err != nil {
			return err
		}
	}
	if err := f.store.PurgeArtifacts(ctx, scheduleID); err != nil {
		return err
	}
	f.locks.Delete(scheduleID)
	return nil
}

func (f *Facade) resolveConfigID(ctx context.Context, scheduleID string) (int64, bool) {
	if meta, ok, err := f.store.GetMeta(ctx, scheduleID); err == nil && ok {
		return meta.ConfigID, true
	}
	return ParseScheduleID(scheduleID)
}

// Pause removes scheduleID from the engine but keeps its artifacts and
// index membership, recording a status_changed event. Only an ACTIVE
// schedule can be paused.
func (f *Facade) Pause(ctx context.Context, scheduleID string) error {
	defer f.lockSchedule(scheduleID)()

	status, ok, err := f.store.GetStatus(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError(fmt.Sprintf("schedule %q does not exist", scheduleID))
	}
	if status != StatusActive {
		return NewConflictError(fmt.Sprintf("cannot pause schedule %q in status %s", scheduleID, status))
	}

	f.scheduler.Unregister(scheduleID)
	return f.store.SetStatus(ctx, scheduleID, StatusPaused)
}

// Resume reloads the config fresh from the database (never the Redis
// snapshot), re-registers scheduleID with the engine, and sets status
// ACTIVE. Only a PAUSED or ERROR schedule can be resumed; resuming an
// already-active one is a conflict. If the config no longer exists or
// fails validation, the resume fails and the status is left untouched —
// there is no silent state change.
func (f *Facade) Resume(ctx context.Context, scheduleID string) error {
	defer f.lockSchedule(scheduleID)()

	status, ok, err := f.store.GetStatus(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError(fmt.Sprintf("schedule %q does not exist", scheduleID))
	}
	if status != StatusPaused && status != StatusError {
		return NewConflictError(fmt.Sprintf("cannot resume schedule %q in status %s", scheduleID, status))
	}

	meta, ok, err := f.store.GetMeta(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError(fmt.Sprintf("no metadata for schedule %q; cannot resume", scheduleID))
	}

	cfg, err := f.configs.GetByID(ctx, meta.ConfigID)
	if err != nil {
		return err
	}

	// A schedule marked ERROR after a failed fire is still registered in
	// the engine; re-adding it would double-fire.
	if !f.scheduler.IsPresent(scheduleID) {
		if _, err := f.scheduler.Register(ctx, cfg, scheduleID); err != nil {
			return err
		}
	}

	return f.store.SetStatus(ctx, scheduleID, StatusActive)
}

// FindOrphans returns every live engine entry whose config_id no
// longer has a matching DB config.
func (f *Facade) FindOrphans(ctx context.Context) ([]EngineEntry, error) {
	configs, err := f.configs.ListSchedulable(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(configs))
	for _, c := range configs {
		known[c.ID] = true
	}

	var orphans []EngineEntry
	for _, e := range f.scheduler.ListAll() {
		configID, ok := ParseScheduleID(e.ScheduleID)
		if !ok || !known[configID] {
			orphans = append(orphans, e)
		}
	}
	return orphans, nil
}

// CleanupOrphans unregisters every entry FindOrphans reports, via the
// normal unregister path, and returns the count removed.
func (f *Facade) CleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := f.FindOrphans(ctx)
	if err != nil {
		return 0, err
	}
	for _, o := range orphans {
		if err := f.Unregister(ctx, o.ScheduleID); err != nil {
			return 0, err
		}
	}
	return len(orphans), nil
}

// EnsureDefaultInstances registers one instance for every schedulable
// DB config that currently has zero live instances.
func (f *Facade) EnsureDefaultInstances(ctx context.Context) (int, error) {
	configs, err := f.configs.ListSchedulable(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, cfg := range configs {
		ids, err := f.store.ListIDs(ctx, cfg.ID)
		if err != nil {
			return created, err
		}
		if len(ids) > 0 {
			continue
		}
		if _, err := f.Register(ctx, cfg); err != nil {
			f.logger.Warn("failed to ensure default instance", "config_id", cfg.ID, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

// CleanupLegacyArtifacts deletes keys matching pattern (empty uses the
// default legacy glob) and unregisters any live engine entry whose
// schedule_id does not parse as the canonical format.
func (f *Facade) CleanupLegacyArtifacts(ctx context.Context, pattern string) (int, error) {
	removedKeys, err := f.store.CleanupLegacyKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	for _, e := range f.scheduler.ListAll() {
		if _, ok := ParseScheduleID(e.ScheduleID); !ok {
			f.scheduler.Unregister(e.ScheduleID)
		}
	}
	return removedKeys, nil
}

func scheduleRule(cfg *TaskConfig) string {
	switch cfg.SchedulerType {
	case SchedulerCron:
		return cfg.CronExpression()
	case SchedulerDate:
		return cfg.RunAt().Format("2006-01-02T15:04:05Z")
	default:
		return ""
	}
}
