package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions plus descriptors
// like @hourly.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// parseCron parses a cron expression.
func parseCron(expression string) (cron.Schedule, error) {
	if expression == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return schedule, nil
}

// Next computes the fire time that follows lastFire for the given rule,
// or nil when the rule will never fire again.
//
// Once rules return their fixed instant until the first fire, even when
// that instant has already passed: a job due during downtime still fires
// exactly once on resume. All other kinds never backfill.
//
// Interval rules keep their phase: the result is the first lastFire +
// k*every after now, so missed occurrences collapse into the next
// on-phase slot. A nil lastFire anchors the phase at now.
//
// Calendar rules (daily, weekly, monthly, cron) resolve wall-clock times
// in the rule's timezone and return the first occurrence strictly after
// now. Monthly days past the end of a short month clamp to its last day.
func Next(r *Rule, timezone string, lastFire *time.Time, now time.Time) (*time.Time, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}

	switch r.Kind {
	case KindOnce:
		if r.At == nil {
			return nil, fmt.Errorf("once rule has no fire time")
		}
		if lastFire != nil {
			return nil, nil
		}
		at := r.At.UTC()
		return &at, nil

	case KindInterval:
		return nextInterval(r.Every.Std(), lastFire, now)

	case KindDaily:
		wc, err := parseWallClock(r.Time)
		if err != nil {
			return nil, err
		}
		ref := reference(lastFire, now).In(loc)
		candidate := time.Date(ref.Year(), ref.Month(), ref.Day(), wc.hour, wc.minute, wc.second, 0, loc)
		if !candidate.After(ref) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return utcPtr(candidate), nil

	case KindWeekly:
		wc, err := parseWallClock(r.Time)
		if err != nil {
			return nil, err
		}
		ref := reference(lastFire, now).In(loc)
		days := (*r.Weekday - int(ref.Weekday()) + 7) % 7
		candidate := time.Date(ref.Year(), ref.Month(), ref.Day()+days, wc.hour, wc.minute, wc.second, 0, loc)
		if !candidate.After(ref) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return utcPtr(candidate), nil

	case KindMonthly:
		wc, err := parseWallClock(r.Time)
		if err != nil {
			return nil, err
		}
		ref := reference(lastFire, now).In(loc)
		candidate := monthlyOccurrence(ref.Year(), ref.Month(), r.Day, wc, loc)
		if !candidate.After(ref) {
			year, month := ref.Year(), ref.Month()+1
			candidate = monthlyOccurrence(year, month, r.Day, wc, loc)
		}
		return utcPtr(candidate), nil

	case KindCron:
		schedule, err := parseCron(r.Expression)
		if err != nil {
			return nil, err
		}
		ref := reference(lastFire, now).In(loc)
		next := schedule.Next(ref)
		// robfig reports an unsatisfiable spec (e.g. Feb 30) as the zero
		// time, which must not become an always-due fire time.
		if next.IsZero() {
			return nil, fmt.Errorf("cron expression %q has no future occurrence", r.Expression)
		}
		return utcPtr(next), nil

	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// nextInterval returns the first anchor + k*every strictly after now,
// with k at least one.
func nextInterval(every time.Duration, lastFire *time.Time, now time.Time) (*time.Time, error) {
	if every <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	anchor := now
	if lastFire != nil {
		anchor = *lastFire
	}

	k := now.Sub(anchor)/every + 1
	if k < 1 {
		k = 1
	}
	candidate := anchor.Add(time.Duration(k) * every)
	if !candidate.After(now) {
		candidate = candidate.Add(every)
	}

	return utcPtr(candidate), nil
}

// monthlyOccurrence places the wall-clock time on the given day of the
// month, clamping day to the month's length. The year/month pair may be
// denormalized (month 13 rolls into the next year).
func monthlyOccurrence(year int, month time.Month, day int, wc wallClock, loc *time.Location) time.Time {
	// Day zero of the following month is the last day of this one.
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, wc.hour, wc.minute, wc.second, 0, loc)
}

// reference picks the instant occurrences must follow. lastFire only
// matters when it is ahead of now, which guards against a clock that
// stepped backwards re-firing an already consumed slot.
func reference(lastFire *time.Time, now time.Time) time.Time {
	if lastFire != nil && lastFire.After(now) {
		return *lastFire
	}
	return now
}

func utcPtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
