package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/taskforge/taskforge"
)

// ExecutionRepository persists execution telemetry: append-only
// inserts from the worker's post-execution wrapper, per-config/recent/
// failed queries, SQL-reduction aggregations, and retention cleanup.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository wraps an already-open *sql.DB.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts one execution row. Rows are never mutated afterward.
func (r *ExecutionRepository) Create(ctx context.Context, e *taskforge.TaskExecution) (*taskforge.TaskExecution, error) {
	var resultJSON []byte
	var err error
	if e.Result != nil {
		resultJSON, err = json.Marshal(e.Result)
		if err != nil {
			return nil, taskforge.NewValidationError("execution result must be JSON-serializable", nil)
		}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO task_executions
			(task_id, config_id, is_success, started_at, completed_at, duration_seconds, result, error_message, error_traceback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		e.TaskID, e.ConfigID, e.IsSuccess, e.StartedAt, e.CompletedAt, e.DurationSeconds,
		nullableJSON(resultJSON), e.ErrorMessage, e.ErrorTraceback,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, taskforge.NewIntegrityError("failed to insert task execution", err)
	}
	e.ID = id
	return e, nil
}

// GetByConfig returns up to limit executions for configID, newest first.
func (r *ExecutionRepository) GetByConfig(ctx context.Context, configID int64, limit int) ([]*taskforge.TaskExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM task_executions WHERE config_id = $1
		ORDER BY started_at DESC LIMIT $2`, configID, limit)
	if err != nil {
		return nil, taskforge.NewTransientError("failed to query executions by config", err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// GetRecent returns up to limit executions started within the last
// hours, newest first.
func (r *ExecutionRepository) GetRecent(ctx context.Context, hours int, limit int) ([]*taskforge.TaskExecution, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM task_executions WHERE started_at >= $1
		ORDER BY started_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, taskforge.NewTransientError("failed to query recent executions", err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// GetFailedRecent returns up to limit failed executions started within
// the last days, newest first — the dead-letter-style visibility
// surface failure dashboards page through.
func (r *ExecutionRepository) GetFailedRecent(ctx context.Context, days int, limit int) ([]*taskforge.TaskExecution, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM task_executions WHERE started_at >= $1 AND is_success = FALSE
		ORDER BY started_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, taskforge.NewTransientError("failed to query failed executions", err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// GetGlobalStats aggregates execution outcomes over the last days
// across every config.
func (r *ExecutionRepository) GetGlobalStats(ctx context.Context, days int) (*taskforge.ExecutionStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats := &taskforge.ExecutionStats{ByType: map[string]int{}}
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_success), COALESCE(AVG(duration_seconds), 0)
		FROM task_executions WHERE started_at >= $1`, since)
	var avg sql.NullFloat64
	if err := row.Scan(&stats.Total, &stats.Success, &avg); err != nil {
		return nil, taskforge.NewTransientError("failed to aggregate global execution stats", err)
	}
	stats.Failed = stats.Total - stats.Success
	stats.AvgDurationSeconds = avg.Float64
	computeRates(stats)

	rows, err := r.db.QueryContext(ctx, `
		SELECT c.task_type, COUNT(*)
		FROM task_executions e
		JOIN task_configs c ON c.id = e.config_id
		WHERE e.started_at >= $1
		GROUP BY c.task_type`, since)
	if err != nil {
		return nil, taskforge.NewTransientError("failed to aggregate execution stats by type", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskType string
		var count int
		if err := rows.Scan(&taskType, &count); err != nil {
			return nil, taskforge.NewTransientError("failed to scan execution stats by type", err)
		}
		stats.ByType[taskType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, taskforge.NewTransientError("error iterating execution stats by type", err)
	}

	return stats, nil
}

// GetStatsByConfig aggregates execution outcomes over the last days
// for one config, plus the consecutive-failures streak dashboards use
// to flag a schedule that keeps failing.
func (r *ExecutionRepository) GetStatsByConfig(ctx context.Context, configID int64, days int) (*taskforge.ExecutionStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats := &taskforge.ExecutionStats{ByType: map[string]int{}}
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_success), COALESCE(AVG(duration_seconds), 0)
		FROM task_executions WHERE config_id = $1 AND started_at >= $2`, configID, since)
	var avg sql.NullFloat64
	if err := row.Scan(&stats.Total, &stats.Success, &avg); err != nil {
		return nil, taskforge.NewTransientError("failed to aggregate execution stats by config", err)
	}
	stats.Failed = stats.Total - stats.Success
	stats.AvgDurationSeconds = avg.Float64
	computeRates(stats)

	streak, err := r.consecutiveFailures(ctx, configID)
	if err != nil {
		return nil, err
	}
	stats.ConsecutiveFailures = streak

	return stats, nil
}

// consecutiveFailures counts how many of the most recent executions
// for configID failed in a row, stopping at the first success.
func (r *ExecutionRepository) consecutiveFailures(ctx context.Context, configID int64) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT is_success FROM task_executions
		WHERE config_id = $1 ORDER BY started_at DESC LIMIT 100`, configID)
	if err != nil {
		return 0, taskforge.NewTransientError("failed to read execution history for failure streak", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var success bool
		if err := rows.Scan(&success); err != nil {
			return 0, taskforge.NewTransientError("failed to scan execution for failure streak", err)
		}
		if success {
			break
		}
		streak++
	}
	if err := rows.Err(); err != nil {
		return 0, taskforge.NewTransientError("error iterating executions for failure streak", err)
	}
	return streak, nil
}

// CleanupOld deletes every execution started more than daysToKeep ago,
// returning the number of rows removed.
func (r *ExecutionRepository) CleanupOld(ctx context.Context, daysToKeep int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	res, err := r.db.ExecContext(ctx, `DELETE FROM task_executions WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, taskforge.NewInternalError("failed to clean up old executions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, taskforge.NewInternalError("failed to count cleaned-up executions", err)
	}
	return int(n), nil
}

func computeRates(stats *taskforge.ExecutionStats) {
	if stats.Total == 0 {
		return
	}
	stats.SuccessRate = float64(stats.Success) / float64(stats.Total)
	stats.FailureRate = float64(stats.Failed) / float64(stats.Total)
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

const executionColumns = `id, task_id, config_id, is_success, started_at, completed_at, duration_seconds, result, error_message, error_traceback`

func scanExecutionRows(rows *sql.Rows) ([]*taskforge.TaskExecution, error) {
	var out []*taskforge.TaskExecution
	for rows.Next() {
		var e taskforge.TaskExecution
		var configID sql.NullInt64
		var completedAt sql.NullTime
		var duration sql.NullFloat64
		var resultJSON []byte

		if err := rows.Scan(
			&e.ID, &e.TaskID, &configID, &e.IsSuccess, &e.StartedAt, &completedAt,
			&duration, &resultJSON, &e.ErrorMessage, &e.ErrorTraceback,
		); err != nil {
			return nil, taskforge.NewTransientError("failed to scan task execution", err)
		}

		if configID.Valid {
			v := configID.Int64
			e.ConfigID = &v
		}
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		if duration.Valid {
			v := duration.Float64
			e.DurationSeconds = &v
		}
		if len(resultJSON) > 0 {
			if err := json.Unmarshal(resultJSON, &e.Result); err != nil {
				return nil, taskforge.NewInternalError("failed to decode execution result", err)
			}
		}

		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, taskforge.NewTransientError("error iterating task executions", err)
	}
	return out, nil
}
