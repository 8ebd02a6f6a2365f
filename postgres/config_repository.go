package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskforge/taskforge"
)

// orderableColumns whitelists the columns GetByQuery may sort by, so
// ConfigQuery.OrderBy never reaches the query string unvalidated.
var orderableColumns = map[string]string{
	"id":             "id",
	"name":           "name",
	"task_type":      "task_type",
	"scheduler_type": "scheduler_type",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
}

// ConfigRepository persists task configs with dynamic filter/sort/
// paginate queries. It also satisfies taskforge.ConfigProvider so the
// scheduler facade can resolve fresh configs on resume without
// importing this package's concrete type.
type ConfigRepository struct {
	db *sql.DB
}

// NewConfigRepository wraps an already-open *sql.DB. Call Migrate
// once at startup before using the repository.
func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Create inserts cfg, stamping created_at/updated_at, and returns the
// row with its assigned ID.
func (r *ConfigRepository) Create(ctx context.Context, cfg *taskforge.TaskConfig) (*taskforge.TaskConfig, error) {
	params, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return nil, taskforge.NewValidationError("parameters must be JSON-serializable", nil)
	}
	schedCfg, err := json.Marshal(cfg.ScheduleConfig)
	if err != nil {
		return nil, taskforge.NewValidationError("schedule_config must be JSON-serializable", nil)
	}

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO task_configs
			(name, task_type, scheduler_type, parameters, schedule_config, max_retries, timeout_seconds, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`,
		cfg.Name, cfg.TaskType, string(cfg.SchedulerType), params, schedCfg,
		cfg.MaxRetries, cfg.TimeoutSeconds, cfg.Priority, now,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, taskforge.NewIntegrityError("failed to insert task config", err)
	}

	cfg.ID = id
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return cfg, nil
}

// GetByID loads one config by ID, satisfying taskforge.ConfigProvider.
func (r *ConfigRepository) GetByID(ctx context.Context, id int64) (*taskforge.TaskConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, task_type, scheduler_type, parameters, schedule_config,
		       max_retries, timeout_seconds, priority, created_at, updated_at
		FROM task_configs WHERE id = $1`, id)
	return scanConfig(row)
}

// ListSchedulable returns every config whose scheduler_type is not
// MANUAL, satisfying taskforge.ConfigProvider (used by
// ensure_default_instances/find_orphans).
func (r *ConfigRepository) ListSchedulable(ctx context.Context) ([]*taskforge.TaskConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, task_type, scheduler_type, parameters, schedule_config,
		       max_retries, timeout_seconds, priority, created_at, updated_at
		FROM task_configs WHERE scheduler_type <> $1`, string(taskforge.SchedulerManual))
	if err != nil {
		return nil, taskforge.NewTransientError("failed to list schedulable configs", err)
	}
	defer rows.Close()
	return scanConfigRows(rows)
}

// GetByQuery runs the dynamic filter/sort/paginate query.
func (r *ConfigRepository) GetByQuery(ctx context.Context, q taskforge.ConfigQuery) (*taskforge.Page, error) {
	q = q.WithDefaults()

	orderCol, ok := orderableColumns[q.OrderBy]
	if !ok {
		orderCol = "updated_at"
	}
	orderDir := "DESC"
	if strings.EqualFold(q.OrderDir, "ASC") {
		orderDir = "ASC"
	}

	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.NameSearch != "" {
		where = append(where, "name ILIKE "+arg("%"+q.NameSearch+"%"))
	}
	if q.TaskType != "" {
		where = append(where, "task_type = "+arg(q.TaskType))
	}
	if q.SchedulerType != "" {
		where = append(where, "scheduler_type = "+arg(string(q.SchedulerType)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM task_configs %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, taskforge.NewTransientError("failed to count task configs", err)
	}

	limitArg := arg(q.PageSize)
	offsetArg := arg((q.Page - 1) * q.PageSize)
	listQuery := fmt.Sprintf(`
		SELECT id, name, task_type, scheduler_type, parameters, schedule_config,
		       max_retries, timeout_seconds, priority, created_at, updated_at
		FROM task_configs %s
		ORDER BY %s %s
		LIMIT %s OFFSET %s`, whereClause, orderCol, orderDir, limitArg, offsetArg)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, taskforge.NewTransientError("failed to query task configs", err)
	}
	defer rows.Close()

	items, err := scanConfigRows(rows)
	if err != nil {
		return nil, err
	}

	return &taskforge.Page{
		Items:    items,
		Total:    total,
		PageNum:  q.Page,
		PageSize: q.PageSize,
	}, nil
}

// Update applies a partial patch to config id. task_type and
// scheduler_type are immutable post-create and are rejected
// by the service layer before this is ever called; the repository
// itself only knows how to persist the mutable columns.
func (r *ConfigRepository) Update(ctx context.Context, id int64, patch map[string]interface{}) (*taskforge.TaskConfig, error) {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, taskforge.NewNotFoundError(fmt.Sprintf("task config %d not found", id))
	}

	if v, ok := patch["name"]; ok {
		existing.Name, _ = v.(string)
	}
	if v, ok := patch["parameters"]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			existing.Parameters = m
		}
	}
	if v, ok := patch["schedule_config"]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			existing.ScheduleConfig = m
		}
	}
	if v, ok := patch["max_retries"]; ok {
		if n, ok := toInt(v); ok {
			existing.MaxRetries = n
		}
	}
	if v, ok := patch["timeout_seconds"]; ok {
		if n, ok := toInt(v); ok {
			existing.TimeoutSeconds = &n
		}
	}
	if v, ok := patch["priority"]; ok {
		if n, ok := toInt(v); ok {
			existing.Priority = n
		}
	}

	params, err := json.Marshal(existing.Parameters)
	if err != nil {
		return nil, taskforge.NewValidationError("parameters must be JSON-serializable", nil)
	}
	schedCfg, err := json.Marshal(existing.ScheduleConfig)
	if err != nil {
		return nil, taskforge.NewValidationError("schedule_config must be JSON-serializable", nil)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		UPDATE task_configs
		SET name = $1, parameters = $2, schedule_config = $3, max_retries = $4,
		    timeout_seconds = $5, priority = $6, updated_at = $7
		WHERE id = $8`,
		existing.Name, params, schedCfg, existing.MaxRetries,
		existing.TimeoutSeconds, existing.Priority, now, id,
	)
	if err != nil {
		return nil, taskforge.NewIntegrityError("failed to update task config", err)
	}
	existing.UpdatedAt = now
	return existing, nil
}

// Delete removes config id. The owning config's schedule instances
// must be unregistered by the caller first (the service facade does
// this via the scheduler facade before calling Delete);
// this method's own responsibility is the data-model invariant that
// historical executions survive with config_id set to NULL, done in
// the same transaction as the row delete.
func (r *ConfigRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return taskforge.NewTransientError("failed to begin delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE task_executions SET config_id = NULL WHERE config_id = $1`, id); err != nil {
		return taskforge.NewInternalError("failed to detach executions from config", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM task_configs WHERE id = $1`, id)
	if err != nil {
		return taskforge.NewInternalError("failed to delete task config", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return taskforge.NewNotFoundError(fmt.Sprintf("task config %d not found", id))
	}

	if err := tx.Commit(); err != nil {
		return taskforge.NewTransientError("failed to commit delete transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*taskforge.TaskConfig, error) {
	var c taskforge.TaskConfig
	var schedulerType string
	var params, schedCfg []byte
	var timeoutSeconds sql.NullInt64

	err := row.Scan(
		&c.ID, &c.Name, &c.TaskType, &schedulerType, &params, &schedCfg,
		&c.MaxRetries, &timeoutSeconds, &c.Priority, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, taskforge.NewNotFoundError("task config not found")
	}
	if err != nil {
		return nil, taskforge.NewTransientError("failed to scan task config", err)
	}

	c.SchedulerType = taskforge.SchedulerType(schedulerType)
	if timeoutSeconds.Valid {
		v := int(timeoutSeconds.Int64)
		c.TimeoutSeconds = &v
	}
	if err := json.Unmarshal(params, &c.Parameters); err != nil {
		return nil, taskforge.NewInternalError("failed to decode task config parameters", err)
	}
	if err := json.Unmarshal(schedCfg, &c.ScheduleConfig); err != nil {
		return nil, taskforge.NewInternalError("failed to decode task config schedule_config", err)
	}
	return &c, nil
}

func scanConfigRows(rows *sql.Rows) ([]*taskforge.TaskConfig, error) {
	var out []*taskforge.TaskConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, taskforge.NewTransientError("error iterating task config rows", err)
	}
	return out, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
