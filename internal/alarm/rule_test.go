package alarm

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseRule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		want   Rule
		period time.Duration
	}{
		{raw: "", want: None},
		{raw: "None", want: None},
		{raw: "daily", want: Daily, period: 24 * time.Hour},
		{raw: "Weekly", want: Weekly, period: 168 * time.Hour},
		{raw: "HOURLY", want: Hourly, period: time.Hour},
		{raw: "Minutely", want: Minutely, period: time.Minute},
		{raw: "Every5Seconds", want: Every(5), period: 5 * time.Second},
		{raw: "EveryMinute", want: Every(60), period: time.Minute},
		{raw: "every:30", want: Every(30), period: 30 * time.Second},
		{raw: "every:2m", want: Every(120), period: 2 * time.Minute},
		{raw: " every:5s ", want: Every(5), period: 5 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseRule(tt.raw)
			if err != nil {
				t.Fatalf("ParseRule(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseRule(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			if got.Period() != tt.period {
				t.Fatalf("Period = %v, want %v", got.Period(), tt.period)
			}
		})
	}
}

func TestParseRuleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"monthly", "every:", "every:0", "every:-3", "every:1500ms", "every:abc"} {
		_, err := ParseRule(raw)
		if err == nil {
			t.Fatalf("ParseRule(%q) expected error", raw)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseRule(%q) error %v does not match ErrValidation", raw, err)
		}
	}
}

func TestRuleTextForm(t *testing.T) {
	t.Parallel()
	in := Instance{ID: "i1", Date: "2024-01-01", Time: "08:00", Repeat: Every(5)}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["repeat"] != "every:5s" {
		t.Fatalf("repeat encoded as %v, want every:5s", raw["repeat"])
	}

	var legacy Instance
	if err := json.Unmarshal([]byte(`{"id":"i2","date":"2024-01-01","time":"08:00","repeat":"Daily"}`), &legacy); err != nil {
		t.Fatalf("unmarshal legacy: %v", err)
	}
	if legacy.Repeat != Daily {
		t.Fatalf("legacy repeat = %v, want daily", legacy.Repeat)
	}
}
