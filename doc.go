// Package taskforge implements the scheduling substrate for a
// self-describing, dynamically reconfigurable background task platform.
//
// Operators register task types once, at process start (see Register
// on TaskRegistry). They then create persistent TaskConfig rows
// parameterizing a task type plus a trigger rule (manual, cron, or a
// one-shot date), and materialize one or more runtime ScheduleInstances
// from each config. Every fired execution is recorded with full
// success/failure telemetry in the relational store; every live
// schedule carries a Redis-resident status, metadata snapshot, and
// bounded event history.
//
// Authoritative state is split deliberately: TaskConfig and
// TaskExecution live in a relational store (see the postgres
// subpackage) because they need durability and ad-hoc querying; live
// schedule state lives in Redis because the scheduling engine needs it
// fast and the relational store has no business holding ephemeral
// per-schedule bookkeeping. Reconciling the two is the job of the
// Facade type.
package taskforge
