// Package cron runs scheduled action invocations: a job names an action,
// a cron expression, and fixed params, and is fed through the
// orchestrator's normal Executor.Execute path when due. Every job is
// "run this action"; there are no other job types.
package cron

import "time"

// Job is one scheduled action invocation, resolved from a
// config.ScheduledActionConfig.
type Job struct {
	Name     string
	Action   string
	Schedule Schedule
	Params   map[string]any
	Timeout  time.Duration

	NextRun   time.Time
	LastRun   time.Time
	LastError string
}
