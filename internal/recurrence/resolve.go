// Package recurrence turns an alarm's date, time-of-day and rule into concrete
// fire instants.
//
// Everything here is pure: no clocks are read and no state is kept. The
// caller passes the reference instant, the location and the debug override.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"alarmd/internal/alarm"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// InvalidScheduleError reports a date or time-of-day that does not parse.
// It matches both ErrInvalidSchedule and alarm.ErrValidation.
type InvalidScheduleError struct {
	Field string // "date" | "time"
	Value string
	Err   error
}

func (e *InvalidScheduleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

func (e *InvalidScheduleError) Is(target error) bool {
	return target == ErrInvalidSchedule || target == alarm.ErrValidation
}

// Options carry engine configuration into every resolution call.
type Options struct {
	// Location is the local time zone for combining date and time-of-day.
	// nil means time.Local.
	Location *time.Location

	// Override, when not none, supersedes the per-alarm/per-instance rule.
	Override alarm.Rule
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// Resolution is the result of resolving one trigger.
type Resolution struct {
	// First is the declared first fire instant. For repeating rules it may be in the past.
	First time.Time
	// Fires is false when nothing must be armed (non-repeating and not in the future).
	Fires     bool
	Repeating bool
	Period    time.Duration
	// Rule is the effective rule after applying the override.
	Rule alarm.Rule
}

// Effective returns the rule actually used for resolution.
func Effective(rule, override alarm.Rule) alarm.Rule {
	if !override.IsNone() {
		return override
	}
	return rule
}

// Resolve computes the first fire instant of a trigger.
//
//   - rule none and instant <= ref: Fires=false.
//   - repeating rule: First is returned even if it is in the past,
//     together with the fixed period.
func Resolve(ref time.Time, date, tod string, rule alarm.Rule, opt Options) (Resolution, error) {
	eff := Effective(rule, opt.Override)
	if err := eff.Validate(); err != nil {
		return Resolution{}, err
	}
	at, err := Combine(date, tod, opt.location())
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{First: at, Rule: eff}
	if eff.IsNone() {
		res.Fires = at.After(ref)
		return res, nil
	}
	res.Fires = true
	res.Repeating = true
	res.Period = eff.Period()
	return res, nil
}

// Check returns an alarm.DateTimeCheck bound to loc.
func Check(loc *time.Location) alarm.DateTimeCheck {
	if loc == nil {
		loc = time.Local
	}
	return func(date, tod string) error {
		_, err := Combine(date, tod, loc)
		return err
	}
}

// Combine joins date's calendar day with tod's time-of-day in loc.
func Combine(date, tod string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	y, mo, d, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, mi, s, err := ParseTimeOfDay(tod, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(y, mo, d, h, mi, s, 0, loc), nil
}

// ParseDate accepts "2006-01-02" or an RFC 3339 timestamp, whose calendar day
// in loc is used.
func ParseDate(raw string, loc *time.Location) (int, time.Month, int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, 0, &InvalidScheduleError{Field: "date", Value: raw, Err: errors.New("date required")}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		y, m, d := t.Date()
		return y, m, d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, 0, 0, &InvalidScheduleError{Field: "date", Value: raw, Err: errors.New("use YYYY-MM-DD or RFC 3339")}
	}
	y, m, d := t.In(loc).Date()
	return y, m, d, nil
}

// ParseTimeOfDay accepts "15:04", "15:04:05" or an RFC 3339 timestamp, whose
// wall clock in loc is used.
func ParseTimeOfDay(raw string, loc *time.Location) (int, int, int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, 0, &InvalidScheduleError{Field: "time", Value: raw, Err: errors.New("time required")}
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, 0, 0, &InvalidScheduleError{Field: "time", Value: raw, Err: errors.New("use HH:MM, HH:MM:SS or RFC 3339")}
	}
	t = t.In(loc)
	return t.Hour(), t.Minute(), t.Second(), nil
}

// CatchUp returns the first occurrence first + k*period (k >= 0) that is not
// before now. Non-repeating triggers (period <= 0) are returned unchanged.
func CatchUp(first time.Time, period time.Duration, now time.Time) time.Time {
	if period <= 0 || !first.Before(now) {
		return first
	}
	k := now.Sub(first) / period
	next := first.Add(k * period)
	if next.Before(now) {
		next = next.Add(period)
	}
	return next
}
