// Package taskforge task service facade.
// The API-visible surface: joins the task config repository, the
// scheduler facade, the schedule state store, and the execution
// repository behind one type, invalidating the tag-based cache on
// every mutation.
package taskforge

import (
	"context"
	"fmt"
)

// Cache tags invalidated by mutating operations.
const (
	TagTaskConfigs      = "task_configs"
	TagTaskConfigDetail = "task_config_detail"
	TagSystemStatus     = "system_status"
	TagScheduleList     = "schedule_list"
)

// ConfigStore is the slice of the task config repository the
// service facade needs. ConfigProvider (facade.go) is embedded so a
// *TaskService can hand its config store straight to NewFacade.
type ConfigStore interface {
	ConfigProvider
	Create(ctx context.Context, cfg *TaskConfig) (*TaskConfig, error)
	Update(ctx context.Context, id int64, patch map[string]interface{}) (*TaskConfig, error)
	Delete(ctx context.Context, id int64) error
	GetByQuery(ctx context.Context, q ConfigQuery) (*Page, error)
}

// ExecutionStore is the slice of the execution repository the
// service facade needs.
type ExecutionStore interface {
	Create(ctx context.Context, e *TaskExecution) (*TaskExecution, error)
	GetByConfig(ctx context.Context, configID int64, limit int) ([]*TaskExecution, error)
	GetRecent(ctx context.Context, hours int, limit int) ([]*TaskExecution, error)
	GetFailedRecent(ctx context.Context, days int, limit int) ([]*TaskExecution, error)
	GetGlobalStats(ctx context.Context, days int) (*ExecutionStats, error)
	GetStatsByConfig(ctx context.Context, configID int64, days int) (*ExecutionStats, error)
	CleanupOld(ctx context.Context, daysToKeep int) (int, error)
}

// DBHealth is satisfied by anything that can report liveness of the
// relational store backing ConfigStore/ExecutionStore. Optional:
// GetSystemHealth degrades gracefully if it is nil.
type DBHealth interface {
	PingContext(ctx context.Context) error
}

// TaskConfigView is one row of ListTaskConfigs's page: the persisted
// config plus its live schedule instances' statuses, joined from the
// schedule state store in one SCAN-free lookup per row.
type TaskConfigView struct {
	*TaskConfig
	ScheduleIDs []string `json:"schedule_ids"`
	Statuses    []Status `json:"statuses"`
}

// TaskConfigDetail is the expanded single-config view GetTaskConfig
// returns: the config, its live instances, a history preview per
// instance, and optionally execution stats.
type TaskConfigDetail struct {
	Config      *TaskConfig              `json:"config"`
	ScheduleIDs []string                 `json:"schedule_ids"`
	Previews    map[string]*ScheduleInfo `json:"previews,omitempty"`
	Stats       *ExecutionStats          `json:"stats,omitempty"`
}

// ParameterUI is the {control, label?, placeholder?, ...} shape each
// parameter carries in task-info output.
type ParameterUI struct {
	Control       ControlHint   `json:"control"`
	Label         string        `json:"label,omitempty"`
	Placeholder   string        `json:"placeholder,omitempty"`
	Min           interface{}   `json:"min,omitempty"`
	Max           interface{}   `json:"max,omitempty"`
	Step          interface{}   `json:"step,omitempty"`
	Choices       []interface{} `json:"choices,omitempty"`
	ExcludeFromUI bool          `json:"exclude_from_ui,omitempty"`
	Description   string        `json:"description,omitempty"`
	Example       interface{}   `json:"example,omitempty"`
}

// ParameterInfo is one entry of TaskInfo.Parameters.
type ParameterInfo struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	TypeInfo interface{} `json:"type_info"`
	Default  interface{} `json:"default,omitempty"`
	Required bool        `json:"required"`
	Kind     string      `json:"kind"`
	UI       ParameterUI `json:"ui"`
}

// TaskInfo is the per-task-type output the UI reads to build forms.
type TaskInfo struct {
	Name          string          `json:"name"`
	WorkerName    string          `json:"worker_name"`
	Queue         string          `json:"queue"`
	Doc           string          `json:"doc"`
	HasParameters bool            `json:"has_parameters"`
	Parameters    []ParameterInfo `json:"parameters"`
}

// SystemEnums is the {scheduler_types, schedule_actions, task_types,
// schedule_statuses} output driving front-end dropdowns.
// Queues lists the suggested worker queue names for task registration
// forms.
type SystemEnums struct {
	SchedulerTypes   []SchedulerType `json:"scheduler_types"`
	ScheduleActions  []string        `json:"schedule_actions"`
	TaskTypes        []string        `json:"task_types"`
	ScheduleStatuses []Status        `json:"schedule_statuses"`
	Queues           []string        `json:"queues"`
}

// SystemStatus summarizes live schedule counts by status plus the
// config/task-type totals backing them.
type SystemStatus struct {
	ScheduleCounts map[Status]int `json:"schedule_counts"`
	TotalConfigs   int            `json:"total_configs"`
	RegisteredTask int            `json:"registered_task_types"`
}

// SystemHealth reports whether each dependency the facade drives is
// reachable.
type SystemHealth struct {
	RedisOK bool `json:"redis_ok"`
	DBOK    bool `json:"db_ok"`
}

// SystemDashboard bundles status, health, and a recent-activity slice
// for an operator landing page.
type SystemDashboard struct {
	Status           SystemStatus     `json:"status"`
	Health           SystemHealth     `json:"health"`
	GlobalStats      *ExecutionStats  `json:"global_stats"`
	RecentExecutions []*TaskExecution `json:"recent_executions"`
	Orphans          []EngineEntry    `json:"orphans"`
}

// TaskService is the API-facing aggregation over configs, schedules,
// executions, and the cache.
type TaskService struct {
	configs    ConfigStore
	executions ExecutionStore
	facade     *Facade
	store      *ScheduleStore
	registry   *TaskRegistry
	cache      *Cache
	dbHealth   DBHealth
	logger     *Logger
}

// NewTaskService wires the facade over its collaborators. cache and
// dbHealth may be nil; the facade degrades (no caching, DB health
// reported unknown) rather than panicking.
func NewTaskService(configs ConfigStore, executions ExecutionStore, facade *Facade, store *ScheduleStore, registry *TaskRegistry, cache *Cache, dbHealth DBHealth, logger *Logger) *TaskService {
	if logger == nil {
		logger = NewLogger("TaskService")
	}
	return &TaskService{
		configs:    configs,
		executions: executions,
		facade:     facade,
		store:      store,
		registry:   registry,
		cache:      cache,
		dbHealth:   dbHealth,
		logger:     logger,
	}
}

// ListTaskConfigs runs the dynamic query and attaches each row's
// live schedule status, result cached under TagTaskConfigs.
func (s *TaskService) ListTaskConfigs(ctx context.Context, q ConfigQuery) (*Page, error) {
	key := fmt.Sprintf("task_configs:%s:%s:%s:%s:%s:%d:%d", q.NameSearch, q.TaskType, q.SchedulerType, q.OrderBy, q.OrderDir, q.Page, q.PageSize)

	var cached Page
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	page, err := s.configs.GetByQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	rows, _ := page.Items.([]*TaskConfig)
	views := make([]*TaskConfigView, 0, len(rows))
	for _, cfg := range rows {
		view := &TaskConfigView{TaskConfig: cfg}
		if s.store != nil {
			ids, err := s.store.ListIDs(ctx, cfg.ID)
			if err == nil {
				view.ScheduleIDs = ids
				for _, id := range ids {
					if status, ok, err := s.store.GetStatus(ctx, id); err == nil && ok {
						view.Statuses = append(view.Statuses, status)
					}
				}
			}
		}
		views = append(views, view)
	}
	page.Items = views

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, page, 0); err == nil {
			s.cache.Tag(ctx, key, TagTaskConfigs)
		}
	}
	return page, nil
}

// GetTaskConfig loads one config plus its live instances, optionally
// joined with execution stats.
func (s *TaskService) GetTaskConfig(ctx context.Context, id int64, withStats bool) (*TaskConfigDetail, error) {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &TaskConfigDetail{Config: cfg, Previews: map[string]*ScheduleInfo{}}
	if s.store != nil {
		ids, err := s.store.ListIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		detail.ScheduleIDs = ids
		for _, sid := range ids {
			info, err := s.store.FullInfo(ctx, sid, 10)
			if err == nil {
				detail.Previews[sid] = info
			}
		}
	}

	if withStats && s.executions != nil {
		stats, err := s.executions.GetStatsByConfig(ctx, id, 30)
		if err != nil {
			return nil, err
		}
		detail.Stats = stats
	}

	return detail, nil
}

// CreateTaskConfig validates and persists cfg, and — when autoSchedule
// is set and cfg is not MANUAL — registers a live schedule instance for
// it via the scheduler facade. Parameter validation runs before the
// row is persisted, so a ValidationError (scenario S3) leaves neither a
// DB row nor any engine/Redis artifact behind.
func (s *TaskService) CreateTaskConfig(ctx context.Context, cfg *TaskConfig, autoSchedule bool) (*TaskConfig, string, error) {
	if err := validateScheduleShape(cfg); err != nil {
		return nil, "", err
	}
	if s.registry != nil {
		if _, ok := s.registry.Resolve(cfg.TaskType); !ok {
			return nil, "", NewValidationError(fmt.Sprintf("task_type %q is not registered", cfg.TaskType), nil)
		}
		if err := s.registry.ValidateParameters(cfg.TaskType, cfg.Parameters); err != nil {
			return nil, "", err
		}
	}

	created, err := s.configs.Create(ctx, cfg)
	if err != nil {
		return nil, "", err
	}

	var scheduleID string
	if autoSchedule && created.SchedulerType != SchedulerManual && s.facade != nil {
		scheduleID, err = s.facade.Register(ctx, created)
		if err != nil {
			return created, "", err
		}
	}

	s.invalidate(ctx, TagTaskConfigs, TagSystemStatus)
	return created, scheduleID, nil
}

// UpdateTaskConfig applies patch to config id. task_type and
// scheduler_type are immutable post-create and are rejected
// here before reaching the repository.
func (s *TaskService) UpdateTaskConfig(ctx context.Context, id int64, patch map[string]interface{}) (*TaskConfig, error) {
	if _, ok := patch["task_type"]; ok {
		return nil, NewValidationError("task_type is immutable after creation", nil)
	}
	if _, ok := patch["scheduler_type"]; ok {
		return nil, NewValidationError("scheduler_type is immutable after creation", nil)
	}

	updated, err := s.configs.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, TagTaskConfigs, TagTaskConfigDetail, TagSystemStatus)
	return updated, nil
}

// DeleteTaskConfig unregisters every live instance of id, then deletes
// the config row, which sets config_id=NULL on its historical
// executions.
func (s *TaskService) DeleteTaskConfig(ctx context.Context, id int64) error {
	if s.store != nil && s.facade != nil {
		ids, err := s.store.ListIDs(ctx, id)
		if err != nil {
			return err
		}
		for _, sid := range ids {
			if err := s.facade.Unregister(ctx, sid); err != nil {
				return err
			}
		}
	}

	if err := s.configs.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, TagTaskConfigs, TagTaskConfigDetail, TagSystemStatus, TagScheduleList)
	return nil
}

// GetSystemStatus tallies live schedule counts by status alongside
// config/task-type totals.
func (s *TaskService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{ScheduleCounts: map[Status]int{}}

	if s.store != nil {
		counts, err := s.store.StatusSummary(ctx)
		if err != nil {
			return nil, err
		}
		status.ScheduleCounts = counts
	}

	if s.configs != nil {
		page, err := s.configs.GetByQuery(ctx, ConfigQuery{PageSize: 1})
		if err == nil {
			status.TotalConfigs = page.Total
		}
	}

	if s.registry != nil {
		status.RegisteredTask = len(s.registry.ListAll())
	}

	return status, nil
}

// GetSystemHealth reports Redis and DB reachability.
func (s *TaskService) GetSystemHealth(ctx context.Context) *SystemHealth {
	health := &SystemHealth{}
	if s.store != nil {
		if _, err := s.store.Pool().GetPool(ctx); err == nil {
			health.RedisOK = true
		}
	}
	if s.dbHealth != nil {
		health.DBOK = s.dbHealth.PingContext(ctx) == nil
	}
	return health
}

// GetSystemDashboard bundles status, health, global stats, recent
// activity, and any live orphans for an operator landing page.
func (s *TaskService) GetSystemDashboard(ctx context.Context) (*SystemDashboard, error) {
	status, err := s.GetSystemStatus(ctx)
	if err != nil {
		return nil, err
	}

	dash := &SystemDashboard{
		Status: *status,
		Health: *s.GetSystemHealth(ctx),
	}

	if s.executions != nil {
		if stats, err := s.executions.GetGlobalStats(ctx, 30); err == nil {
			dash.GlobalStats = stats
		}
		if recent, err := s.executions.GetRecent(ctx, 24, 20); err == nil {
			dash.RecentExecutions = recent
		}
	}

	if s.facade != nil {
		if orphans, err := s.facade.FindOrphans(ctx); err == nil {
			dash.Orphans = orphans
		}
	}

	return dash, nil
}

// GetSystemEnums surfaces the enumerations the front-end uses to build
// dropdowns.
func (s *TaskService) GetSystemEnums() SystemEnums {
	enums := SystemEnums{
		SchedulerTypes:   []SchedulerType{SchedulerManual, SchedulerCron, SchedulerDate},
		ScheduleActions:  []string{"register", "pause", "resume", "unregister"},
		ScheduleStatuses: []Status{StatusInactive, StatusActive, StatusPaused, StatusError},
		Queues:           []string{"urgent", "default", "low"},
	}
	if s.registry != nil {
		for _, d := range s.registry.ListAll() {
			enums.TaskTypes = append(enums.TaskTypes, d.Name)
		}
	}
	return enums
}

// GetTaskInfo builds the UI-facing descriptor for one registered task
// type.
func (s *TaskService) GetTaskInfo(taskType string) (*TaskInfo, error) {
	desc, ok := s.registry.Resolve(taskType)
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("task type %q is not registered", taskType))
	}

	info := &TaskInfo{
		Name:          desc.Name,
		WorkerName:    desc.Name,
		Queue:         desc.Queue,
		Doc:           desc.Doc,
		HasParameters: len(desc.Parameters) > 0,
	}
	for _, p := range desc.Parameters {
		info.Parameters = append(info.Parameters, toParameterInfo(p))
	}
	return info, nil
}

func toParameterInfo(p Parameter) ParameterInfo {
	ui := ParameterUI{
		Control:       p.resolvedControl(),
		ExcludeFromUI: p.ExcludeFromUI,
	}
	if p.ExplicitHints != nil {
		if v, ok := p.ExplicitHints["label"].(string); ok {
			ui.Label = v
		}
		if v, ok := p.ExplicitHints["placeholder"].(string); ok {
			ui.Placeholder = v
		}
		if v, ok := p.ExplicitHints["min"]; ok {
			ui.Min = v
		}
		if v, ok := p.ExplicitHints["max"]; ok {
			ui.Max = v
		}
		if v, ok := p.ExplicitHints["step"]; ok {
			ui.Step = v
		}
		if v, ok := p.ExplicitHints["description"].(string); ok {
			ui.Description = v
		}
		if v, ok := p.ExplicitHints["example"]; ok {
			ui.Example = v
		}
	}
	if p.Type != nil && (p.Type.Kind == KindLiteral || p.Type.Kind == KindEnum) {
		ui.Choices = p.Type.Choices
	}

	return ParameterInfo{
		Name:     p.Name,
		Type:     string(typeKind(p.Type)),
		TypeInfo: p.Type,
		Default:  p.Default,
		Required: p.Required(),
		Kind:     "keyword",
		UI:       ui,
	}
}

func typeKind(t *TypeDescriptor) DescriptorKind {
	if t == nil {
		return KindUnknown
	}
	return t.Kind
}

// ListOrphans, CleanupOrphans, CleanupLegacy are maintenance
// passthroughs to the scheduler facade.
func (s *TaskService) ListOrphans(ctx context.Context) ([]EngineEntry, error) {
	return s.facade.FindOrphans(ctx)
}

func (s *TaskService) CleanupOrphans(ctx context.Context) (int, error) {
	n, err := s.facade.CleanupOrphans(ctx)
	if err == nil {
		s.invalidate(ctx, TagScheduleList, TagSystemStatus)
	}
	return n, err
}

func (s *TaskService) CleanupLegacy(ctx context.Context, pattern string) (int, error) {
	n, err := s.facade.CleanupLegacyArtifacts(ctx, pattern)
	if err == nil {
		s.invalidate(ctx, TagScheduleList, TagSystemStatus)
	}
	return n, err
}

// EnsureDefaultInstances passes through to the scheduler facade, then
// invalidates the schedule-list/system-status caches on success.
func (s *TaskService) EnsureDefaultInstances(ctx context.Context) (int, error) {
	n, err := s.facade.EnsureDefaultInstances(ctx)
	if err == nil && n > 0 {
		s.invalidate(ctx, TagScheduleList, TagSystemStatus)
	}
	return n, err
}

// RecordExecution is the execution-handler contract's entry point
// into the execution repository: the worker host records a
// fired task's outcome here.
func (s *TaskService) RecordExecution(ctx context.Context, e *TaskExecution) (*TaskExecution, error) {
	return s.executions.Create(ctx, e)
}

// CleanupOldExecutions enforces the execution retention policy.
func (s *TaskService) CleanupOldExecutions(ctx context.Context, daysToKeep int) (int, error) {
	return s.executions.CleanupOld(ctx, daysToKeep)
}

func (s *TaskService) invalidate(ctx context.Context, tags ...string) {
	if s.cache == nil {
		return
	}
	for _, tag := range tags {
		if _, err := s.cache.InvalidateByTag(ctx, tag); err != nil {
			s.logger.Warn("cache invalidation failed", "tag", tag, "error", err)
		}
	}
}

func validateScheduleShape(cfg *TaskConfig) error {
	switch cfg.SchedulerType {
	case SchedulerManual:
		return nil
	case SchedulerCron:
		if cfg.CronExpression() == "" {
			return NewValidationError("CRON configs require schedule_config.cron_expression", nil)
		}
		if _, err := ParseCronExpr(cfg.CronExpression()); err != nil {
			return err
		}
	case SchedulerDate:
		if cfg.RunAt().IsZero() {
			return NewValidationError("DATE configs require a valid schedule_config.run_at", nil)
		}
	default:
		return NewValidationError(fmt.Sprintf("unknown scheduler_type %q", cfg.SchedulerType), nil)
	}
	return nil
}
