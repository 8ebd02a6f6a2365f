// Package taskforge cron expression helper.
// Validates a 5-field cron expression and predicts its next firing
// time for display. robfig/cron/v3 (engine.go) owns the actual timer
// loop; this wrapper exists because the API surface needs to reject a
// bad schedule_config.cron_expression at registration time and show
// operators the next run without touching a running engine. Both sides
// share the same parser, so an expression accepted here is accepted by
// the engine and vice versa.
package taskforge

import (
	"time"

	"github.com/robfig/cron/v3"
)

// CronExpr is a parsed, validated cron expression.
type CronExpr struct {
	Raw      string
	schedule cron.Schedule
}

// ParseCronExpr validates schedule and returns a CronExpr that can
// compute NextRun. A malformed expression fails with a ValidationError
// carrying the parser's reason.
func ParseCronExpr(schedule string) (*CronExpr, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, NewValidationError(err.Error(), map[string]interface{}{"schedule": schedule})
	}
	return &CronExpr{Raw: schedule, schedule: sched}, nil
}

// NextRun returns the first instant after 'after' that matches the
// expression.
func (ce *CronExpr) NextRun(after time.Time) time.Time {
	return ce.schedule.Next(after)
}
