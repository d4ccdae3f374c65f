// Package runlog records the execution history of scheduled scripts.
// Records are append-only and keyed by job ID as a plain value, so the
// history of a deleted job stays queryable.
package runlog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an execution record does not exist.
var ErrNotFound = errors.New("execution record not found")

// Status represents the lifecycle state of an execution.
type Status string

const (
	// StatusPending indicates the execution is queued but not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the script is currently executing.
	StatusRunning Status = "running"
	// StatusSuccess indicates the script exited zero.
	StatusSuccess Status = "success"
	// StatusFailed indicates the script exited nonzero or never launched.
	StatusFailed Status = "failed"
	// StatusTimedOut indicates the script was killed at its deadline.
	StatusTimedOut Status = "timed_out"
	// StatusCanceled indicates the execution was dropped before running,
	// for example when the previous run of the job was still in flight.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimedOut, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusTimedOut, StatusCanceled:
		return true
	}
	return false
}

// TriggerKind says what caused a fire.
type TriggerKind string

const (
	// TriggerSchedule marks a fire produced by the scheduling loop.
	TriggerSchedule TriggerKind = "schedule"
	// TriggerManual marks a run-now request from the command interface.
	TriggerManual TriggerKind = "manual"
)

// Record is a single execution of a job's script.
type Record struct {
	ID          string      `json:"id"`
	JobID       string      `json:"job_id"`
	JobName     string      `json:"job_name"`
	Trigger     TriggerKind `json:"trigger"`
	Status      Status      `json:"status"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
	ExitCode    *int        `json:"exit_code,omitempty"`
	Output      string      `json:"output"`
	Error       string      `json:"error,omitempty"`
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	JobID   string
	Status  Status
	Trigger TriggerKind
	// Keyword matches a substring of the captured output or error text.
	Keyword string
	// From and To bound the scheduled_at column.
	From *time.Time
	To   *time.Time
	// Limit defaults to 50 and caps at 1000.
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)
