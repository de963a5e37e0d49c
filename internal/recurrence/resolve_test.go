package recurrence

import (
	"errors"
	"testing"
	"time"

	"alarmd/internal/alarm"
)

var utc = Options{Location: time.UTC}

func TestResolve(t *testing.T) {
	t.Parallel()
	ref := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		date, tod string
		rule      alarm.Rule
		opt       Options
		first     time.Time
		fires     bool
		period    time.Duration
	}{
		{name: "future once", date: "2024-05-01", tod: "12:30", rule: alarm.None, opt: utc,
			first: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), fires: true},
		{name: "past once", date: "2024-05-01", tod: "11:59:59", rule: alarm.None, opt: utc,
			first: time.Date(2024, 5, 1, 11, 59, 59, 0, time.UTC)},
		{name: "equal ref once", date: "2024-05-01", tod: "12:00", rule: alarm.None, opt: utc,
			first: ref},
		{name: "past daily", date: "2024-04-01", tod: "07:00", rule: alarm.Daily, opt: utc,
			first: time.Date(2024, 4, 1, 7, 0, 0, 0, time.UTC), fires: true, period: 24 * time.Hour},
		{name: "override wins", date: "2024-04-01", tod: "07:00", rule: alarm.Weekly,
			opt:   Options{Location: time.UTC, Override: alarm.Every(5)},
			first: time.Date(2024, 4, 1, 7, 0, 0, 0, time.UTC), fires: true, period: 5 * time.Second},
		{name: "override on none", date: "2020-01-01", tod: "00:00", rule: alarm.None,
			opt:   Options{Location: time.UTC, Override: alarm.Minutely},
			first: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), fires: true, period: time.Minute},
		{name: "rfc3339 pieces", date: "2024-05-02T23:00:00Z", tod: "2001-01-01T06:15:00Z", rule: alarm.None, opt: utc,
			first: time.Date(2024, 5, 2, 6, 15, 0, 0, time.UTC), fires: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(ref, tt.date, tt.tod, tt.rule, tt.opt)
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if !res.First.Equal(tt.first) {
				t.Fatalf("First = %v, want %v", res.First, tt.first)
			}
			if res.Fires != tt.fires {
				t.Fatalf("Fires = %v, want %v", res.Fires, tt.fires)
			}
			if res.Period != tt.period || res.Repeating != (tt.period > 0) {
				t.Fatalf("Period = %v repeating=%v, want %v", res.Period, res.Repeating, tt.period)
			}
		})
	}
}

func TestResolveLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	res, err := Resolve(time.Time{}, "2024-05-02T20:00:00Z", "09:00", alarm.None, Options{Location: loc})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	// 20:00Z is already May 3rd in UTC+7.
	want := time.Date(2024, 5, 3, 9, 0, 0, 0, loc)
	if !res.First.Equal(want) {
		t.Fatalf("First = %v, want %v", res.First, want)
	}
}

func TestResolveInvalid(t *testing.T) {
	t.Parallel()
	for _, in := range [][2]string{{"2024-13-01", "10:00"}, {"", "10:00"}, {"2024-01-01", "25:00"}, {"2024-01-01", "soon"}} {
		_, err := Resolve(time.Now(), in[0], in[1], alarm.None, utc)
		if err == nil {
			t.Fatalf("Resolve(%q, %q) expected error", in[0], in[1])
		}
		if !errors.Is(err, ErrInvalidSchedule) || !errors.Is(err, alarm.ErrValidation) {
			t.Fatalf("Resolve(%q, %q) error %v has wrong class", in[0], in[1], err)
		}
	}
}

func TestCatchUp(t *testing.T) {
	t.Parallel()
	first := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	tests := []struct {
		name   string
		now    time.Time
		period time.Duration
		want   time.Time
	}{
		{name: "future start", now: first.Add(-time.Hour), period: day, want: first},
		{name: "exact occurrence", now: first.Add(3 * day), period: day, want: first.Add(3 * day)},
		{name: "between", now: first.Add(3*day + time.Minute), period: day, want: first.Add(4 * day)},
		{name: "non repeating", now: first.Add(day), period: 0, want: first},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := CatchUp(first, tt.period, tt.now); !got.Equal(tt.want) {
				t.Fatalf("CatchUp = %v, want %v", got, tt.want)
			}
		})
	}
}
