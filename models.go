package taskforge

import (
	"encoding/json"
	"time"
)

// SchedulerType is the trigger kind a TaskConfig materializes into.
type SchedulerType string

const (
	SchedulerManual SchedulerType = "MANUAL"
	SchedulerCron   SchedulerType = "CRON"
	SchedulerDate   SchedulerType = "DATE"
)

// Status is the state of a live ScheduleInstance as driven by the
// lifecycle state machine (facade.go).
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusError    Status = "ERROR"
)

// TaskConfig is the persistent, operator-authored parameterization of a
// registered task type plus its scheduling rule.
type TaskConfig struct {
	ID             int64                  `json:"id"`
	Name           string                 `json:"name"`
	TaskType       string                 `json:"task_type"`
	SchedulerType  SchedulerType          `json:"scheduler_type"`
	Parameters     map[string]interface{} `json:"parameters"`
	ScheduleConfig map[string]interface{} `json:"schedule_config"`
	MaxRetries     int                    `json:"max_retries"`
	TimeoutSeconds *int                   `json:"timeout_seconds,omitempty"`
	Priority       int                    `json:"priority"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CronExpression returns schedule_config["cron_expression"] for a CRON
// config, or "" if absent/wrong type.
func (c *TaskConfig) CronExpression() string {
	v, _ := c.ScheduleConfig["cron_expression"].(string)
	return v
}

// RunAt returns schedule_config["run_at"] for a DATE config. One-shot
// timestamps are always treated as UTC (see DESIGN.md). Returns the
// zero Time if absent or unparsable.
func (c *TaskConfig) RunAt() time.Time {
	v, _ := c.ScheduleConfig["run_at"].(string)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// TaskExecution is one append-only record of a fired schedule. Rows are
// never mutated after insertion; ConfigID is nil once the owning config
// has been deleted.
type TaskExecution struct {
	ID              int64                  `json:"id"`
	TaskID          string                 `json:"task_id"`
	ConfigID        *int64                 `json:"config_id"`
	IsSuccess       bool                   `json:"is_success"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds *float64               `json:"duration_seconds,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorTraceback  string                 `json:"error_traceback,omitempty"`
}

// ScheduleMeta is the JSON metadata snapshot captured at registration
// time. It is for inspection/debugging only; resume always rebuilds
// from the latest TaskConfig, never from this snapshot.
type ScheduleMeta struct {
	ScheduleID     string                 `json:"schedule_id"`
	ConfigID       int64                  `json:"config_id"`
	TaskType       string                 `json:"task_type"`
	Parameters     map[string]interface{} `json:"parameters"`
	ScheduleConfig map[string]interface{} `json:"schedule_config"`
	ScheduleRule   string                 `json:"schedule_rule"`
	RegisteredAt   time.Time              `json:"registered_at"`
}

// ScheduleEvent is one entry in a schedule's bounded event history
//.
type ScheduleEvent struct {
	Type string                 `json:"type"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

func (e ScheduleEvent) toJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ScheduleInfo is the composite, read-only view of a live schedule
// instance assembled by ScheduleStore.FullInfo.
type ScheduleInfo struct {
	ScheduleID string          `json:"schedule_id"`
	Status     Status          `json:"status"`
	Meta       *ScheduleMeta   `json:"meta,omitempty"`
	History    []ScheduleEvent `json:"history"`
}

// EngineEntry is what Component G's underlying cron/date primitive
// reports back for a single live entry, used to build ListAll() and to
// detect orphans.
type EngineEntry struct {
	ScheduleID string
	TaskName   string
	Schedule   string
	Labels     map[string]string
	NextRun    time.Time
}

// Page is the standard pagination envelope for dynamic queries
//.
type Page struct {
	Items    interface{} `json:"items"`
	Total    int         `json:"total"`
	PageNum  int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// ExecutionStats is the aggregated shape returned by
// get_global_stats/get_stats_by_config.
type ExecutionStats struct {
	Total               int            `json:"total"`
	Success             int            `json:"success"`
	Failed              int            `json:"failed"`
	SuccessRate         float64        `json:"success_rate"`
	FailureRate         float64        `json:"failure_rate"`
	ByType              map[string]int `json:"by_type"`
	AvgDurationSeconds  float64        `json:"avg_duration_seconds"`
	ConsecutiveFailures int            `json:"consecutive_failures,omitempty"`
}

// ConfigQuery is the dynamic filter/sort/paginate contract the task
// config repository's GetByQuery accepts. OrderBy defaults
// to "updated_at" and OrderDir to "DESC" when empty.
type ConfigQuery struct {
	NameSearch    string
	TaskType      string
	SchedulerType SchedulerType
	OrderBy       string
	OrderDir      string
	Page          int
	PageSize      int
}

// WithDefaults fills in the ordering/pagination defaults: updated_at
// DESC, first page, 20 rows.
func (q ConfigQuery) WithDefaults() ConfigQuery {
	if q.OrderBy == "" {
		q.OrderBy = "updated_at"
	}
	if q.OrderDir == "" {
		q.OrderDir = "DESC"
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	return q
}
