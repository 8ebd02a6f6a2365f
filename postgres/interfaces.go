package postgres

import "github.com/taskforge/taskforge"

// ConfigRepository satisfies taskforge.ConfigProvider and the broader
// taskforge.ConfigStore the task service facade (service.go, component
// L) depends on; ExecutionRepository satisfies taskforge.ExecutionStore.
// Neither interface is redeclared here — Go's structural typing means
// no import cycle is needed for this package to satisfy contracts owned
// by the taskforge package. Wiring a *ConfigRepository /
// *ExecutionRepository (plus a *sql.DB, which already satisfies
// taskforge.DBHealth via PingContext) into a *taskforge.TaskService
// happens in the host process's composition root, not in either
// package. These assertions just pin the contract at compile time.
var (
	_ taskforge.ConfigStore    = (*ConfigRepository)(nil)
	_ taskforge.ExecutionStore = (*ExecutionRepository)(nil)
)
