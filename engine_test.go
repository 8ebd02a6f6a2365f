package taskforge

import (
	"testing"
	"time"
)

func TestCronEngineRejectsSixFieldExpression(t *testing.T) {
	engine := NewCronEngine()
	engine.Start()
	defer engine.Stop()

	fired := make(chan struct{}, 1)
	id, err := engine.AddCron("* * * * * *", func() { fired <- struct{}{} })
	_ = id
	_ = err
	// Standard robfig/cron/v3 grammar is 5 fields (no seconds); a 6-field
	// expression is rejected as invalid, matching cronexpr.go's grammar.
	if err == nil {
		t.Fatal("expected 6-field cron expression to be rejected")
	}
}

func TestCronEngineValidExpression(t *testing.T) {
	engine := NewCronEngine()
	engine.Start()
	defer engine.Stop()

	id, err := engine.AddCron("* * * * *", func() {})
	if err != nil {
		t.Fatalf("AddCron failed: %v", err)
	}
	if _, ok := engine.Entry(id); !ok {
		t.Fatal("expected entry to be present after AddCron")
	}

	engine.Remove(id)
	if _, ok := engine.Entry(id); ok {
		t.Fatal("expected entry to be gone after Remove")
	}
}

func TestCronEngineAddAtFiresOnce(t *testing.T) {
	engine := NewCronEngine()
	engine.Start()
	defer engine.Stop()

	fired := make(chan struct{}, 4)
	id, err := engine.AddAt(time.Now().Add(20*time.Millisecond), func() {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("AddAt failed: %v", err)
	}
	_ = id

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for one-shot job to fire")
	}

	select {
	case <-fired:
		t.Fatal("one-shot job fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}
