// Package taskforge execution handler.
// The wrapper the worker host places around every fire: it
// stamps started_at, assigns the execution's task_id, invokes the
// registered callable, and records one TaskExecution row with the
// outcome. A panicking task is recovered and recorded as a failure
// with its stack as the traceback, never crashing the engine's timer
// goroutine.
package taskforge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// ExecutionHandler implements Dispatcher over the task registry and
// the execution repository. store is optional: when present, a failed
// fire also marks the owning schedule ERROR so the lifecycle state
// machine reflects it.
type ExecutionHandler struct {
	registry   *TaskRegistry
	executions ExecutionStore
	store      *ScheduleStore
	logger     *Logger
}

// NewExecutionHandler wires the handler. executions and store may be
// nil; with no executions store no row is recorded, and a failed row
// write is logged and dropped.
func NewExecutionHandler(registry *TaskRegistry, executions ExecutionStore, store *ScheduleStore, logger *Logger) *ExecutionHandler {
	if logger == nil {
		logger = NewLogger("ExecutionHandler")
	}
	return &ExecutionHandler{
		registry:   registry,
		executions: executions,
		store:      store,
		logger:     logger,
	}
}

// Dispatch runs one fired schedule entry end to end.
func (h *ExecutionHandler) Dispatch(ctx context.Context, fire ScheduledFire) {
	startedAt := time.Now().UTC()
	taskID := uuid.NewString()

	result, runErr := h.run(ctx, fire)

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt).Seconds()
	configID := fire.ConfigID

	exec := &TaskExecution{
		TaskID:          taskID,
		ConfigID:        &configID,
		IsSuccess:       runErr == nil,
		StartedAt:       startedAt,
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
		Result:          result,
	}
	if runErr != nil {
		exec.ErrorMessage = runErr.Error()
		if pe, ok := runErr.(*taskPanicError); ok {
			exec.ErrorTraceback = pe.stack
		}
		h.logger.Error("task execution failed", "task_id", taskID, "task_type", fire.TaskType, "schedule_id", fire.ScheduleID, "error", runErr)
	}

	if h.executions != nil {
		if _, err := h.executions.Create(ctx, exec); err != nil {
			h.logger.Error("failed to record execution", "task_id", taskID, "error", err)
		}
	}

	if runErr != nil && h.store != nil && fire.ScheduleID != "" {
		if err := h.store.SetStatus(ctx, fire.ScheduleID, StatusError); err != nil {
			h.logger.Warn("failed to mark schedule errored", "schedule_id", fire.ScheduleID, "error", err)
		}
	}
}

func (h *ExecutionHandler) run(ctx context.Context, fire ScheduledFire) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &taskPanicError{value: r, stack: string(debug.Stack())}
		}
	}()

	desc, ok := h.registry.Resolve(fire.TaskType)
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("task type %q is not registered", fire.TaskType))
	}
	return desc.Invoke(ctx, fire.Parameters)
}

type taskPanicError struct {
	value interface{}
	stack string
}

func (e *taskPanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.value)
}
