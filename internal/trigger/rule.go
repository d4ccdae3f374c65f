// Package trigger models recurrence rules and computes job fire times.
// Everything here is pure: persistence and clock handling live with the
// callers, which makes the scheduling math directly testable.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a recurrence rule flavor.
type Kind string

const (
	// KindOnce fires a single time at a fixed instant.
	KindOnce Kind = "once"
	// KindInterval fires on a fixed spacing from an anchor instant.
	KindInterval Kind = "interval"
	// KindDaily fires every day at a wall-clock time.
	KindDaily Kind = "daily"
	// KindWeekly fires once a week on a given weekday.
	KindWeekly Kind = "weekly"
	// KindMonthly fires once a month on a given day of month.
	KindMonthly Kind = "monthly"
	// KindCron fires per a standard five-field cron expression.
	KindCron Kind = "cron"
)

// ErrInvalidRule is returned when a rule fails validation.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Duration wraps time.Duration so interval rules serialize as "5m"
// rather than a nanosecond count.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON renders the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string ("90s", "5m") or a raw
// nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	switch v := value.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing duration: %w", err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration value: %v", value)
	}

	return nil
}

// Rule describes when a job fires. Kind selects which of the remaining
// fields apply; the rest stay at their zero values and are omitted from
// the serialized form.
type Rule struct {
	Kind Kind `json:"kind"`

	// At is the single fire instant for once rules.
	At *time.Time `json:"at,omitempty"`

	// Every is the spacing for interval rules. Minimum one second.
	Every Duration `json:"every,omitempty"`

	// Time is the wall-clock fire time for daily, weekly and monthly
	// rules, formatted "HH:MM" or "HH:MM:SS".
	Time string `json:"time,omitempty"`

	// Weekday is the fire day for weekly rules, 0 = Sunday through
	// 6 = Saturday.
	Weekday *int `json:"weekday,omitempty"`

	// Day is the day of month for monthly rules, 1 through 31. Days past
	// the end of a short month clamp to its last day.
	Day int `json:"day,omitempty"`

	// Expression is the cron spec for cron rules.
	Expression string `json:"expression,omitempty"`
}

// Validate checks the rule for structural validity. now anchors the once
// check: a rule that could never fire is rejected up front.
func (r *Rule) Validate(now time.Time) error {
	switch r.Kind {
	case KindOnce:
		if r.At == nil {
			return fmt.Errorf("%w: once rule requires at", ErrInvalidRule)
		}
		if !r.At.After(now) {
			return fmt.Errorf("%w: once rule time %s is not in the future", ErrInvalidRule, r.At.Format(time.RFC3339))
		}
	case KindInterval:
		if r.Every.Std() < time.Second {
			return fmt.Errorf("%w: interval must be at least 1 second", ErrInvalidRule)
		}
	case KindDaily:
		if _, err := parseWallClock(r.Time); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	case KindWeekly:
		if r.Weekday == nil || *r.Weekday < 0 || *r.Weekday > 6 {
			return fmt.Errorf("%w: weekly rule requires a weekday between 0 (Sunday) and 6 (Saturday)", ErrInvalidRule)
		}
		if _, err := parseWallClock(r.Time); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	case KindMonthly:
		if r.Day < 1 || r.Day > 31 {
			return fmt.Errorf("%w: monthly rule requires a day between 1 and 31", ErrInvalidRule)
		}
		if _, err := parseWallClock(r.Time); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	case KindCron:
		if _, err := parseCron(r.Expression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}

	return nil
}

// Equal reports whether two rules describe the same recurrence.
func (r Rule) Equal(other Rule) bool {
	if r.Kind != other.Kind {
		return false
	}
	if (r.At == nil) != (other.At == nil) {
		return false
	}
	if r.At != nil && !r.At.Equal(*other.At) {
		return false
	}
	if (r.Weekday == nil) != (other.Weekday == nil) {
		return false
	}
	if r.Weekday != nil && *r.Weekday != *other.Weekday {
		return false
	}
	return r.Every == other.Every &&
		r.Time == other.Time &&
		r.Day == other.Day &&
		r.Expression == other.Expression
}

// wallClock is a time of day independent of date and zone.
type wallClock struct {
	hour, minute, second int
}

/// parseWallClock parses "HH:MM" or "HH:MM:SS".
func parseWallClock(s string) (wallClock, error) {
	if s == "" {
		return wallClock{}, fmt.Errorf("time of day is required")
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return wallClock{}, fmt.Errorf("time of day %q must be HH:MM or HH:MM:SS", s)
	}

	fields := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return wallClock{}, fmt.Errorf("time of day %q must be HH:MM or HH:MM:SS", s)
		}
		fields[i] = n
	}

	wc := wallClock{hour: fields[0], minute: fields[1], second: fields[2]}
	if wc.hour < 0 || wc.hour > 23 {
		return wallClock{}, fmt.Errorf("hour %d out of range", wc.hour)
	}
	if wc.minute < 0 || wc.minute > 59 {
		return wallClock{}, fmt.Errorf("minute %d out of range", wc.minute)
	}
	if wc.second < 0 || wc.second > 59 {
		return wallClock{}, fmt.Errorf("second %d out of range", wc.second)
	}

	return wc, nil
}
