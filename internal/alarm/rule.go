package alarm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleKind is the normalized recurrence policy.
type RuleKind int

const (
	RuleNone RuleKind = iota
	RuleDaily
	RuleWeekly
	RuleHourly
	RuleMinutely
	RuleEvery // fixed N-second interval, meant for testing
)

// Rule decides whether a trigger fires once or repeats at a fixed period.
//
// Text forms:
//   - "none", "daily", "weekly", "hourly", "minutely"
//   - "every:<N>s" (e.g. "every:5s")
//
// Legacy names ("None", "Daily", "Every5Seconds", "EveryMinute", ...) are accepted
// on input. The zero value is RuleNone.
type Rule struct {
	Kind    RuleKind
	Seconds int // RuleEvery only
}

var (
	None     = Rule{Kind: RuleNone}
	Daily    = Rule{Kind: RuleDaily}
	Weekly   = Rule{Kind: RuleWeekly}
	Hourly   = Rule{Kind: RuleHourly}
	Minutely = Rule{Kind: RuleMinutely}
)

// Every returns the fixed-interval test rule.
func Every(seconds int) Rule { return Rule{Kind: RuleEvery, Seconds: seconds} }

// ParseRule parses a recurrence rule.
func ParseRule(raw string) (Rule, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "none":
		return None, nil
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	case "hourly", "hour":
		return Hourly, nil
	case "minutely", "minute":
		return Minutely, nil
	case "every5seconds":
		return Every(5), nil
	case "everyminute":
		return Every(60), nil
	}
	if strings.HasPrefix(s, "every:") {
		v := strings.TrimSpace(s[len("every:"):])
		return parseEvery(raw, v)
	}
	return Rule{}, Invalid("repeat", "unknown rule %q (use none, daily, weekly, hourly, minutely or every:<N>s)", raw)
}

func parseEvery(raw, v string) (Rule, error) {
	if v == "" {
		return Rule{}, Invalid("repeat", "interval required after 'every:'")
	}
	// Plain integer means seconds.
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return Rule{}, Invalid("repeat", "interval must be > 0 in %q", raw)
		}
		return Every(n), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Rule{}, Invalid("repeat", "invalid interval %q", raw)
	}
	if d < time.Second || d%time.Second != 0 {
		return Rule{}, Invalid("repeat", "interval must be a whole number of seconds in %q", raw)
	}
	return Every(int(d / time.Second)), nil
}

// MustParseRule is ParseRule for constants in tests and defaults.
func MustParseRule(raw string) Rule {
	r, err := ParseRule(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleNone:
		return "none"
	case RuleDaily:
		return "daily"
	case RuleWeekly:
		return "weekly"
	case RuleHourly:
		return "hourly"
	case RuleMinutely:
		return "minutely"
	case RuleEvery:
		return fmt.Sprintf("every:%ds", r.Seconds)
	default:
		return fmt.Sprintf("rule(%d)", int(r.Kind))
	}
}

// IsNone reports whether r never repeats.
func (r Rule) IsNone() bool { return r.Kind == RuleNone }

// Period is the fixed repeat period; 0 for RuleNone.
// Periods are calendar-naive: a day is always 24h and a week 168h.
func (r Rule) Period() time.Duration {
	switch r.Kind {
	case RuleDaily:
		return 24 * time.Hour
	case RuleWeekly:
		return 7 * 24 * time.Hour
	case RuleHourly:
		return time.Hour
	case RuleMinutely:
		return time.Minute
	case RuleEvery:
		return time.Duration(r.Seconds) * time.Second
	default:
		return 0
	}
}

func (r Rule) Validate() error {
	switch r.Kind {
	case RuleNone, RuleDaily, RuleWeekly, RuleHourly, RuleMinutely:
		return nil
	case RuleEvery:
		if r.Seconds <= 0 {
			return Invalid("repeat", "every interval must be > 0")
		}
		return nil
	default:
		return Invalid("repeat", "unknown rule kind %d", int(r.Kind))
	}
}

func (r Rule) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Rule) UnmarshalText(b []byte) error {
	v, err := ParseRule(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
