package taskforge

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	fires []ScheduledFire
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, entry ScheduledFire) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fires = append(f.fires, entry)
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fires)
}

func newTestScheduler(t *testing.T, dispatcher Dispatcher) (*Scheduler, *TaskRegistry) {
	t.Helper()
	reg := NewTaskRegistry()
	if err := reg.Register(TaskSpec{Name: "noop", Func: sampleTaskFunc}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	engine := NewCronEngine()
	engine.Start()
	t.Cleanup(engine.Stop)

	return NewScheduler(engine, reg, dispatcher, NewLogger("test", LoggerConfig{Silent: true})), reg
}

func TestSchedulerRegisterCronAndUnregister(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	cfg := &TaskConfig{ID: 1, TaskType: "noop", SchedulerType: SchedulerCron, ScheduleConfig: map[string]interface{}{"cron_expression": "* * * * *"}}
	id, err := sched.Register(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !sched.IsPresent(id) {
		t.Fatal("expected entry to be present")
	}

	sched.Unregister(id)
	if sched.IsPresent(id) {
		t.Fatal("expected entry to be gone after unregister")
	}

	// unregistering twice is idempotent
	sched.Unregister(id)
}

func TestSchedulerRegisterRefusesManual(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)
	cfg := &TaskConfig{ID: 1, TaskType: "noop", SchedulerType: SchedulerManual}
	_, err := sched.Register(context.Background(), cfg, "")
	if err == nil || !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for manual config, got %v", err)
	}
}

func TestSchedulerRegisterUnknownTaskType(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)
	cfg := &TaskConfig{ID: 1, TaskType: "does_not_exist", SchedulerType: SchedulerCron, ScheduleConfig: map[string]interface{}{"cron_expression": "* * * * *"}}
	_, err := sched.Register(context.Background(), cfg, "")
	if err == nil || !IsKind(err, KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSchedulerRegisterDateNearFuture(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)
	cfg := &TaskConfig{
		ID:             1,
		TaskType:       "noop",
		SchedulerType:  SchedulerDate,
		ScheduleConfig: map[string]interface{}{"run_at": time.Now().Add(20 * time.Millisecond).UTC().Format(time.RFC3339)},
	}
	id, err := sched.Register(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !sched.IsPresent(id) {
		t.Fatal("expected near-future DATE schedule to be present")
	}
}

func TestSchedulerForceScheduleIDForResume(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)
	cfg := &TaskConfig{ID: 7, TaskType: "noop", SchedulerType: SchedulerCron, ScheduleConfig: map[string]interface{}{"cron_expression": "* * * * *"}}

	id, err := sched.Register(context.Background(), cfg, "schedule:config:7:deadbeefdeadbeef")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id != "schedule:config:7:deadbeefdeadbeef" {
		t.Errorf("expected the forced schedule_id to be reused, got %s", id)
	}
}

func TestSchedulerListAllAndNextRunTime(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)
	cfg := &TaskConfig{ID: 2, TaskType: "noop", SchedulerType: SchedulerCron, ScheduleConfig: map[string]interface{}{"cron_expression": "0 9 * * *"}}
	id, err := sched.Register(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	all := sched.ListAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	if all[0].ScheduleID != id {
		t.Errorf("unexpected schedule id in ListAll: %s", all[0].ScheduleID)
	}

	next, ok := sched.NextRunTime(id)
	if !ok || next.IsZero() {
		t.Fatalf("expected a computed next run time, got %v ok=%v", next, ok)
	}
}

func TestSchedulerDispatchesOnFire(t *testing.T) {
	disp := &fakeDispatcher{}
	sched, _ := newTestScheduler(t, disp)

	cfg := &TaskConfig{ID: 3, TaskType: "noop", SchedulerType: SchedulerDate, ScheduleConfig: map[string]interface{}{
		"run_at": time.Now().Add(10 * time.Millisecond).UTC().Format(time.RFC3339),
	}}
	_, err := sched.Register(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && disp.count() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if disp.count() == 0 {
		t.Fatal("expected dispatcher to receive a firing")
	}
}
