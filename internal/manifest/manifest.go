// Package manifest parses and applies declarative job lists. A manifest
// is a YAML document naming jobs, the script files they run, and their
// recurrence rules; applying it upserts jobs by name so the file can be
// kept in version control and re-applied safely.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watzon/oncue/internal/trigger"
)

// Manifest is a parsed declarative job list.
type Manifest struct {
	Jobs []Entry
}

// Entry describes one declared job. Script is a file path resolved
// relative to the manifest file and uploaded on apply; if no such file
// exists, the name is looked up among already stored scripts.
type Entry struct {
	Name           string
	Script         string
	Rule           trigger.Rule
	Timezone       string
	Enabled        bool
	TimeoutSeconds int
}

type rawManifest struct {
	Jobs []rawEntry `yaml:"jobs"`
}

type rawEntry struct {
	Name     string  `yaml:"name"`
	Script   string  `yaml:"script"`
	Rule     rawRule `yaml:"rule"`
	Timezone string  `yaml:"timezone"`
	Enabled  *bool   `yaml:"enabled"`
	Timeout  string  `yaml:"timeout"`
}

// rawRule keeps the YAML form loose: instants are RFC3339 strings and
// spacings are duration strings like "30m".
type rawRule struct {
	Kind       string `yaml:"kind"`
	At         string `yaml:"at"`
	Every      string `yaml:"every"`
	Time       string `yaml:"time"`
	Weekday    *int   `yaml:"weekday"`
	Day        int    `yaml:"day"`
	Expression string `yaml:"expression"`
}

// ParseFile reads and parses a manifest from path.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a manifest document. Errors name the
// offending entry.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}

	m := &Manifest{Jobs: make([]Entry, 0, len(raw.Jobs))}
	for i, rawJob := range raw.Jobs {
		entry, err := parseEntry(rawJob)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entryRef(i, rawJob.Name), err)
		}
		m.Jobs = append(m.Jobs, entry)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}

	return m, nil
}

func parseEntry(raw rawEntry) (Entry, error) {
	entry := Entry{
		Name:     raw.Name,
		Script:   raw.Script,
		Timezone: raw.Timezone,
		Enabled:  true,
		Rule: trigger.Rule{
			Kind:       trigger.Kind(raw.Rule.Kind),
			Time:       raw.Rule.Time,
			Weekday:    raw.Rule.Weekday,
			Day:        raw.Rule.Day,
			Expression: raw.Rule.Expression,
		},
	}

	if raw.Enabled != nil {
		entry.Enabled = *raw.Enabled
	}

	if raw.Rule.At != "" {
		at, err := time.Parse(time.RFC3339, raw.Rule.At)
		if err != nil {
			return Entry{}, fmt.Errorf("rule.at: %w", err)
		}
		at = at.UTC()
		entry.Rule.At = &at
	}

	if raw.Rule.Every != "" {
		every, err := time.ParseDuration(raw.Rule.Every)
		if err != nil {
			return Entry{}, fmt.Errorf("rule.every: %w", err)
		}
		entry.Rule.Every = trigger.Duration(every)
	}

	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return Entry{}, fmt.Errorf("timeout: %w", err)
		}
		entry.TimeoutSeconds = int(timeout.Seconds())
	}

	return entry, nil
}

func entryRef(index int, name string) string {
	if name != "" {
		return fmt.Sprintf("job %q", name)
	}
	return fmt.Sprintf("jobs[%d]", index)
}

// ValidationError points at one problem in a manifest.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("manifest validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks the manifest structurally. Rule semantics that depend
// on the clock (a once instant still being in the future) are checked on
// apply, so re-applying a manifest with an already fired once job stays
// valid.
func Validate(m *Manifest) error {
	var errs ValidationErrors

	if len(m.Jobs) == 0 {
		errs = append(errs, &ValidationError{
			Path:    "jobs",
			Message: "at least one job is required",
		})
	}

	seen := make(map[string]bool)
	scriptPaths := make(map[string]string)
	for i, entry := range m.Jobs {
		path := entryRef(i, entry.Name)

		if entry.Name == "" {
			errs = append(errs, &ValidationError{
				Path:    path + ".name",
				Message: "name is required",
			})
		} else if seen[entry.Name] {
			errs = append(errs, &ValidationError{
				Path:    path,
				Message: "duplicate job name",
			})
		}
		seen[entry.Name] = true

		if entry.Script == "" {
			errs = append(errs, &ValidationError{
				Path:    path + ".script",
				Message: "script is required",
			})
		} else {
			// Stored scripts are keyed by bare file name, so two paths
			// with the same base would overwrite each other.
			base := filepath.Base(entry.Script)
			if prev, ok := scriptPaths[base]; ok && prev != entry.Script {
				errs = append(errs, &ValidationError{
					Path:    path + ".script",
					Message: fmt.Sprintf("file name %q collides with %q", base, prev),
				})
			} else {
				scriptPaths[base] = entry.Script
			}
		}

		errs = append(errs, validateRule(path+".rule", entry.Rule)...)

		if entry.Timezone != "" {
			if _, err := time.LoadLocation(entry.Timezone); err != nil {
				errs = append(errs, &ValidationError{
					Path:    path + ".timezone",
					Message: fmt.Sprintf("unknown timezone %q", entry.Timezone),
				})
			}
		}

		if entry.TimeoutSeconds < 0 {
			errs = append(errs, &ValidationError{
				Path:    path + ".timeout",
				Message: "must not be negative",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateRule(path string, r trigger.Rule) ValidationErrors {
	var errs ValidationErrors

	switch r.Kind {
	case trigger.KindOnce:
		if r.At == nil {
			errs = append(errs, &ValidationError{
				Path:    path + ".at",
				Message: "once rule requires at",
			})
		}
	case trigger.KindInterval:
		if r.Every.Std() < time.Second {
			errs = append(errs, &ValidationError{
				Path:    path + ".every",
				Message: "interval must be at least 1 second",
			})
		}
	case trigger.KindDaily:
		if r.Time == "" {
			errs = append(errs, &ValidationError{
				Path:    path + ".time",
				Message: "daily rule requires a time of day",
			})
		}
	case trigger.KindWeekly:
		if r.Weekday == nil {
			errs = append(errs, &ValidationError{
				Path:    path + ".weekday",
				Message: "weekly rule requires a weekday",
			})
		}
		if r.Time == "" {
			errs = append(errs, &ValidationError{
				Path:    path + ".time",
				Message: "weekly rule requires a time of day",
			})
		}
	case trigger.KindMonthly:
		if r.Day < 1 || r.Day > 31 {
			errs = append(errs, &ValidationError{
				Path:    path + ".day",
				Message: "monthly rule requires a day between 1 and 31",
			})
		}
		if r.Time == "" {
			errs = append(errs, &ValidationError{
				Path:    path + ".time",
				Message: "monthly rule requires a time of day",
			})
		}
	case trigger.KindCron:
		if r.Expression == "" {
			errs = append(errs, &ValidationError{
				Path:    path + ".expression",
				Message: "cron rule requires an expression",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Path:    path + ".kind",
			Message: fmt.Sprintf("invalid kind %q; must be one of: once, interval, daily, weekly, monthly, cron", r.Kind),
		})
	}

	return errs
}
