package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	"alarmd/internal/alarm"
)

const maxUpcoming = 500

// Upcoming lists the next n fire instants strictly after the given instant.
//
// Repeating rules are expanded with an RRULE anchored in UTC, which keeps the
// periods fixed (no DST shifts), matching how triggers are re-armed.
func Upcoming(res Resolution, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 || !res.Fires {
		return nil, nil
	}
	if n > maxUpcoming {
		n = maxUpcoming
	}
	if !res.Repeating {
		if res.First.After(after) {
			return []time.Time{res.First}, nil
		}
		return nil, nil
	}

	start := CatchUp(res.First, res.Period, after)
	if !start.After(after) {
		start = start.Add(res.Period)
	}
	freq, interval := frequency(res.Rule, res.Period)
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  start.UTC(),
		Count:    n,
	})
	if err != nil {
		return nil, err
	}
	loc := res.First.Location()
	all := r.All()
	out := make([]time.Time, 0, len(all))
	for _, t := range all {
		out = append(out, t.In(loc))
	}
	return out, nil
}

func frequency(rule alarm.Rule, period time.Duration) (rrule.Frequency, int) {
	switch rule.Kind {
	case alarm.RuleDaily:
		return rrule.DAILY, 1
	case alarm.RuleWeekly:
		return rrule.WEEKLY, 1
	case alarm.RuleHourly:
		return rrule.HOURLY, 1
	case alarm.RuleMinutely:
		return rrule.MINUTELY, 1
	default:
		secs := int(period / time.Second)
		if secs <= 0 {
			secs = 1
		}
		return rrule.SECONDLY, secs
	}
}
