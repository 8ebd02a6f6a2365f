package taskforge

import (
	"context"
	"testing"
)

func TestScheduleStoreIndexRoundTrip(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()

	if err := store.AddToIndex(ctx, 1, "schedule:config:1:aaa"); err != nil {
		t.Fatalf("AddToIndex failed: %v", err)
	}
	if err := store.AddToIndex(ctx, 1, "schedule:config:1:bbb"); err != nil {
		t.Fatalf("AddToIndex failed: %v", err)
	}

	ids, err := store.ListIDs(ctx, 1)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	if err := store.RemoveFromIndex(ctx, 1, "schedule:config:1:aaa"); err != nil {
		t.Fatalf("RemoveFromIndex failed: %v", err)
	}
	ids, err = store.ListIDs(ctx, 1)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 id after remove, got %d", len(ids))
	}
}

func TestScheduleStoreSetStatusAppendsHistory(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()
	id := "schedule:config:1:aaa"

	if err := store.SetStatus(ctx, id, StatusActive); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	status, ok, err := store.GetStatus(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetStatus failed: ok=%v err=%v", ok, err)
	}
	if status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", status)
	}

	history, err := store.History(ctx, id, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Type != "status_changed" {
		t.Fatalf("expected one status_changed event, got %+v", history)
	}
}

func TestScheduleStoreMetaRoundTrip(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()
	id := "schedule:config:1:aaa"

	meta := &ScheduleMeta{ScheduleID: id, ConfigID: 1, TaskType: "noop"}
	if err := store.SetMeta(ctx, id, meta); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}

	got, ok, err := store.GetMeta(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetMeta failed: ok=%v err=%v", ok, err)
	}
	if got.TaskType != "noop" || got.ConfigID != 1 {
		t.Errorf("unexpected meta: %+v", got)
	}
}

func TestScheduleStoreGetMetaMissing(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()

	_, ok, err := store.GetMeta(ctx, "schedule:config:99:zzz")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing meta")
	}
}

func TestScheduleStoreHistoryBounded(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()
	id := "schedule:config:1:aaa"

	for i := 0; i < scheduleMaxHistory+10; i++ {
		if err := store.AddEvent(ctx, id, ScheduleEvent{Type: "tick"}); err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
	}

	history, err := store.History(ctx, id, scheduleMaxHistory+50)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != scheduleMaxHistory {
		t.Errorf("expected history capped at %d, got %d", scheduleMaxHistory, len(history))
	}
}

func TestScheduleStoreFullInfo(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()
	id := "schedule:config:1:aaa"

	_ = store.SetStatus(ctx, id, StatusActive)
	_ = store.SetMeta(ctx, id, &ScheduleMeta{ScheduleID: id, ConfigID: 1, TaskType: "noop"})
	_ = store.AddEvent(ctx, id, ScheduleEvent{Type: "task_registered"})

	info, err := store.FullInfo(ctx, id, 10)
	if err != nil {
		t.Fatalf("FullInfo failed: %v", err)
	}
	if info.Status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", info.Status)
	}
	if info.Meta == nil || info.Meta.TaskType != "noop" {
		t.Errorf("unexpected meta: %+v", info.Meta)
	}
	if len(info.History) == 0 {
		t.Error("expected at least one history event")
	}
}

func TestScheduleStoreStatusSummary(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()

	_ = store.SetStatus(ctx, "schedule:config:1:a", StatusActive)
	_ = store.SetStatus(ctx, "schedule:config:2:b", StatusActive)
	_ = store.SetStatus(ctx, "schedule:config:3:c", StatusPaused)

	summary, err := store.StatusSummary(ctx)
	if err != nil {
		t.Fatalf("StatusSummary failed: %v", err)
	}
	if summary[StatusActive] != 2 {
		t.Errorf("expected 2 active, got %d", summary[StatusActive])
	}
	if summary[StatusPaused] != 1 {
		t.Errorf("expected 1 paused, got %d", summary[StatusPaused])
	}
}

func TestScheduleStorePurgeArtifacts(t *testing.T) {
	store := NewScheduleStore(newTestPool(t))
	ctx := context.Background()
	id := "schedule:config:1:aaa"

	_ = store.SetStatus(ctx, id, StatusActive)
	_ = store.SetMeta(ctx, id, &ScheduleMeta{ScheduleID: id})

	if err := store.PurgeArtifacts(ctx, id); err != nil {
		t.Fatalf("PurgeArtifacts failed: %v", err)
	}

	_, ok, _ := store.GetStatus(ctx, id)
	if ok {
		t.Error("expected status to be purged")
	}
	_, ok, _ = store.GetMeta(ctx, id)
	if ok {
		t.Error("expected meta to be purged")
	}
}

func TestScheduleStoreCleanupLegacyKeys(t *testing.T) {
	pool := newTestPool(t)
	store := NewScheduleStore(pool)
	ctx := context.Background()

	client, err := pool.GetPool(ctx)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if err := client.Set(ctx, pool.Prefix()+":task:legacy1", "1", 0).Err(); err != nil {
		t.Fatalf("set legacy key failed: %v", err)
	}
	if err := client.Set(ctx, pool.Prefix()+":task:legacy2", "1", 0).Err(); err != nil {
		t.Fatalf("set legacy key failed: %v", err)
	}

	n, err := store.CleanupLegacyKeys(ctx, "")
	if err != nil {
		t.Fatalf("CleanupLegacyKeys failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 legacy keys removed, got %d", n)
	}
}
