package taskforge

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

type fakeConfigProvider struct {
	mu      sync.Mutex
	configs map[int64]*TaskConfig
}

func newFakeConfigProvider(configs ...*TaskConfig) *fakeConfigProvider {
	p := &fakeConfigProvider{configs: map[int64]*TaskConfig{}}
	for _, c := range configs {
		p.configs[c.ID] = c
	}
	return p
}

func (p *fakeConfigProvider) GetByID(ctx context.Context, configID int64) (*TaskConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[configID]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("config %d not found", configID))
	}
	return c, nil
}

func (p *fakeConfigProvider) ListSchedulable(ctx context.Context) ([]*TaskConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*TaskConfig
	for _, c := range p.configs {
		if c.SchedulerType != SchedulerManual {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *fakeConfigProvider) remove(configID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.configs, configID)
}

func cronConfig(id int64) *TaskConfig {
	return &TaskConfig{
		ID:             id,
		Name:           "report",
		TaskType:       "report",
		SchedulerType:  SchedulerCron,
		ScheduleConfig: map[string]interface{}{"cron_expression": "* * * * *"},
	}
}

func newTestFacade(t *testing.T, provider ConfigProvider) (*Facade, *TaskRegistry) {
	t.Helper()
	scheduler, registry := newTestScheduler(t, nil)
	store := NewScheduleStore(newTestPool(t))
	facade := NewFacade(scheduler, store, provider, NewLogger("test", LoggerConfig{Silent: true}))
	return facade, registry
}

func TestFacadeRegisterCreatesArtifactsAndActivates(t *testing.T) {
	cfg := cronConfig(1)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()

	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	scheduleID, err := facade.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	status, ok, err := facade.store.GetStatus(ctx, scheduleID)
	if err != nil || !ok {
		t.Fatalf("expected status present, err=%v ok=%v", err, ok)
	}
	if status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", status)
	}

	ids, err := facade.store.ListIDs(ctx, cfg.ID)
	if err != nil || len(ids) != 1 || ids[0] != scheduleID {
		t.Errorf("expected index to contain scheduleID, got %v (err=%v)", ids, err)
	}

	meta, ok, err := facade.store.GetMeta(ctx, scheduleID)
	if err != nil || !ok {
		t.Fatalf("expected meta present, err=%v ok=%v", err, ok)
	}
	if meta.ConfigID != cfg.ID {
		t.Errorf("expected meta.ConfigID=%d, got %d", cfg.ID, meta.ConfigID)
	}

	history, err := facade.store.History(ctx, scheduleID, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	found := false
	for _, e := range history {
		if e.Type == "task_registered" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected task_registered event in history, got %+v", history)
	}
}

func TestFacadeRegisterUnknownTaskTypeAbortsNoWrites(t *testing.T) {
	cfg := cronConfig(2)
	provider := newFakeConfigProvider(cfg)
	facade, _ := newTestFacade(t, provider)
	ctx := context.Background()

	if _, err := facade.Register(ctx, cfg); err == nil {
		t.Fatal("expected Register to fail for unresolvable task type")
	}

	if ids, _ := facade.store.ListIDs(ctx, cfg.ID); len(ids) != 0 {
		t.Errorf("expected no index entry written on abort, got %v", ids)
	}
}

func TestFacadeUnregisterIsIdempotent(t *testing.T) {
	cfg := cronConfig(3)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	scheduleID, err := facade.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := facade.Unregister(ctx, scheduleID); err != nil {
		t.Fatalf("first Unregister failed: %v", err)
	}
	if err := facade.Unregister(ctx, scheduleID); err != nil {
		t.Fatalf("second Unregister should be idempotent, got: %v", err)
	}

	if facade.scheduler.IsPresent(scheduleID) {
		t.Error("expected schedule removed from engine")
	}
	if _, ok, _ := facade.store.GetMeta(ctx, scheduleID); ok {
		t.Error("expected meta purged")
	}
}

func TestFacadePauseThenResume(t *testing.T) {
	cfg := cronConfig(4)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	scheduleID, err := facade.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := facade.Pause(ctx, scheduleID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if facade.scheduler.IsPresent(scheduleID) {
		t.Error("expected schedule removed from engine after pause")
	}
	status, _, _ := facade.store.GetStatus(ctx, scheduleID)
	if status != StatusPaused {
		t.Errorf("expected PAUSED, got %s", status)
	}
	if ids, _ := facade.store.ListIDs(ctx, cfg.ID); len(ids) != 1 {
		t.Errorf("expected index membership to survive pause, got %v", ids)
	}

	if err := facade.Resume(ctx, scheduleID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !facade.scheduler.IsPresent(scheduleID) {
		t.Error("expected schedule re-added to engine after resume")
	}
	status, _, _ = facade.store.GetStatus(ctx, scheduleID)
	if status != StatusActive {
		t.Errorf("expected ACTIVE after resume, got %s", status)
	}
}

func TestFacadeResumeFailsWhenConfigDeletedStaysPaused(t *testing.T) {
	cfg := cronConfig(5)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	scheduleID, err := facade.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := facade.Pause(ctx, scheduleID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	provider.remove(cfg.ID)

	if err := facade.Resume(ctx, scheduleID); err == nil {
		t.Fatal("expected Resume to fail when config deleted")
	}
	status, _, _ := facade.store.GetStatus(ctx, scheduleID)
	if status != StatusPaused {
		t.Errorf("expected schedule to remain PAUSED after failed resume, got %s", status)
	}
	if facade.scheduler.IsPresent(scheduleID) {
		t.Error("expected schedule to remain out of engine")
	}
}

func TestFacadeLifecycleGuards(t *testing.T) {
	cfg := cronConfig(9)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	scheduleID, err := facade.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := facade.Resume(ctx, scheduleID); !IsKind(err, KindConflict) {
		t.Errorf("resuming an active schedule: error = %v, want ConflictError", err)
	}

	if err := facade.Pause(ctx, scheduleID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := facade.Pause(ctx, scheduleID); !IsKind(err, KindConflict) {
		t.Errorf("pausing a paused schedule: error = %v, want ConflictError", err)
	}

	if err := facade.Pause(ctx, "schedule:config:999:deadbeefcafe"); !IsKind(err, KindNotFound) {
		t.Errorf("pausing a nonexistent schedule: error = %v, want NotFoundError", err)
	}
}

func TestFacadeFindAndCleanupOrphans(t *testing.T) {
	cfg := cronConfig(6)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	scheduleID, err := facade.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	provider.remove(cfg.ID)

	orphans, err := facade.FindOrphans(ctx)
	if err != nil {
		t.Fatalf("FindOrphans failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ScheduleID != scheduleID {
		t.Fatalf("expected one orphan for %s, got %+v", scheduleID, orphans)
	}

	n, err := facade.CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphans failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 orphan cleaned, got %d", n)
	}
	if facade.scheduler.IsPresent(scheduleID) {
		t.Error("expected orphan removed from engine")
	}
}

func TestFacadeEnsureDefaultInstances(t *testing.T) {
	cfg := cronConfig(7)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	created, err := facade.EnsureDefaultInstances(ctx)
	if err != nil {
		t.Fatalf("EnsureDefaultInstances failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 instance created, got %d", created)
	}

	created, err = facade.EnsureDefaultInstances(ctx)
	if err != nil {
		t.Fatalf("second EnsureDefaultInstances failed: %v", err)
	}
	if created != 0 {
		t.Errorf("expected no new instances on second call, got %d", created)
	}
}

func TestFacadeCleanupLegacyArtifacts(t *testing.T) {
	cfg := cronConfig(8)
	provider := newFakeConfigProvider(cfg)
	facade, registry := newTestFacade(t, provider)
	ctx := context.Background()
	registry.Register(TaskSpec{Name: "report", Func: sampleTaskFunc})

	pool := facade.store.pool
	client, err := pool.GetPool(ctx)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	legacyKey := pool.Prefix() + ":task:legacy:1"
	if err := client.Set(ctx, legacyKey, "stale", 0).Err(); err != nil {
		t.Fatalf("seed legacy key failed: %v", err)
	}

	removed, err := facade.CleanupLegacyArtifacts(ctx, "")
	if err != nil {
		t.Fatalf("CleanupLegacyArtifacts failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 legacy key removed, got %d", removed)
	}

	if exists, _ := client.Exists(ctx, legacyKey).Result(); exists != 0 {
		t.Error("expected legacy key deleted")
	}
}
