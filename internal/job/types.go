// Package job defines scheduled jobs and their SQLite persistence.
package job

import (
	"errors"
	"time"

	"github.com/watzon/oncue/internal/trigger"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Job binds a stored script to a recurrence rule.
type Job struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	ScriptRef string       `json:"script_ref"`
	Rule      trigger.Rule `json:"rule"`
	Timezone  string       `json:"timezone"`
	Enabled   bool         `json:"enabled"`

	// NextFireAt is nil for disabled jobs and for once rules that have
	// already fired.
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`

	// LastFireAt is the scheduled instant of the most recent fire, not
	// the moment the script actually started.
	LastFireAt *time.Time `json:"last_fire_at,omitempty"`

	// ClaimedAt marks a fire that has been handed to the executor but
	// not yet rescheduled.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// TimeoutSeconds caps a single run. Zero uses the executor default.
	TimeoutSeconds int `json:"timeout_seconds"`

	// LastError holds the most recent bookkeeping failure for a
	// degraded job, empty otherwise.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	Enabled *bool  // nil selects both
	Name    string // substring match on name
	Glob    string // glob pattern on name, e.g. "etl-*"
	Kind    string // rule kind
	Sort    string // name, created_at or next_fire_at
}

// Stats summarizes the jobs table for health output and gauges.
type Stats struct {
	Total    int64 `json:"total"`
	Enabled  int64 `json:"enabled"`
	Degraded int64 `json:"degraded"`
}
