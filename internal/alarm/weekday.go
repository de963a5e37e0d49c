package alarm

import (
	"strings"
	"time"
)

// Weekday is a two-letter day code: SU, MO, TU, WE, TH, FR, SA.
type Weekday string

var weekdayCodes = [...]Weekday{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayOf maps a time.Weekday onto its code.
func WeekdayOf(d time.Weekday) Weekday { return weekdayCodes[d] }

// ParseWeekdays parses a comma-separated list like "MO,WE,FR".
func ParseWeekdays(raw string) ([]Weekday, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []Weekday
	for _, p := range strings.Split(raw, ",") {
		d := Weekday(strings.ToUpper(strings.TrimSpace(p)))
		if d == "" {
			continue
		}
		out = append(out, d)
	}
	if err := ValidateDays(out); err != nil {
		return nil, err
	}
	return out, nil
}

func ValidateDays(days []Weekday) error {
	seen := map[Weekday]bool{}
	for _, d := range days {
		ok := false
		for _, c := range weekdayCodes {
			if d == c {
				ok = true
				break
			}
		}
		if !ok {
			return Invalid("days", "unknown weekday code %q", d)
		}
		if seen[d] {
			return Invalid("days", "duplicate weekday code %q", d)
		}
		seen[d] = true
	}
	return nil
}
