// Package taskforge cron engine adapter.
// Scheduler core wraps an underlying cron/date engine; this file is
// that engine, backed by robfig/cron/v3 (see cronexpr.go for the
// validation-only expression parser).
package taskforge

import (
	"time"

	"github.com/robfig/cron/v3"
)

// EngineJob is the unit the cron engine fires: a closure capturing
// whatever the caller needs to run (the scheduler core wraps task
// invocation around it).
type EngineJob func()

// CronEngine is the contract scheduler.go needs from the underlying
// engine: add-scheduled-task, remove-by-id, list-all, next-run-time.
// Satisfied by *robfigEngine; a test fake can substitute it.
type CronEngine interface {
	Start()
	Stop()
	// AddCron schedules job to run per a 5-field cron expression and
	// returns an opaque entry id.
	AddCron(expr string, job EngineJob) (cron.EntryID, error)
	// AddAt schedules job to run once at runAt. If runAt is already in
	// the past, it fires on the next engine tick.
	AddAt(runAt time.Time, job EngineJob) (cron.EntryID, error)
	Remove(id cron.EntryID)
	Entry(id cron.EntryID) (cron.Entry, bool)
}

type robfigEngine struct {
	c *cron.Cron
}

// NewCronEngine constructs the robfig/cron/v3-backed engine. Seconds
// are not part of the expression grammar here — cronexpr.go validates
// the same 5-field grammar the engine parses, so a config rejected by
// one is rejected by both.
func NewCronEngine() CronEngine {
	return &robfigEngine{c: cron.New()}
}

func (e *robfigEngine) Start() { e.c.Start() }
func (e *robfigEngine) Stop()  { <-e.c.Stop().Done() }

func (e *robfigEngine) AddCron(expr string, job EngineJob) (cron.EntryID, error) {
	id, err := e.c.AddFunc(expr, cron.FuncJob(job).Run)
	if err != nil {
		return 0, NewValidationError("invalid cron expression", map[string]interface{}{"expr": expr, "cause": err.Error()})
	}
	return id, nil
}

// AddAt schedules a one-shot job. robfig/cron has no native one-shot
// primitive, so this registers a @every-style wrapper that fires once
// at runAt and then removes itself.
func (e *robfigEngine) AddAt(runAt time.Time, job EngineJob) (cron.EntryID, error) {
	sched := &onceSchedule{at: runAt}
	var id cron.EntryID
	wrapped := cron.FuncJob(func() {
		job()
		e.Remove(id)
	})
	id = e.c.Schedule(sched, wrapped)
	return id, nil
}

func (e *robfigEngine) Remove(id cron.EntryID) {
	e.c.Remove(id)
}

func (e *robfigEngine) Entry(id cron.EntryID) (cron.Entry, bool) {
	entry := e.c.Entry(id)
	if entry.ID == 0 {
		return cron.Entry{}, false
	}
	return entry, true
}

// neverAgain is returned by onceSchedule.Next after its single firing
// so robfig/cron's run loop never reschedules it; a zero time.Time
// would sort as "already due" and fire on every tick instead.
var neverAgain = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

// onceSchedule implements cron.Schedule for a single firing at a fixed
// instant: Next returns 'at' the first time, then neverAgain.
type onceSchedule struct {
	at   time.Time
	done bool
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.done {
		return neverAgain
	}
	s.done = true
	return s.at
}
