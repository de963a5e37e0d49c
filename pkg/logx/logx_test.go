package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func TestWriterFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "engine"))
	l.Info("armed",
		String("alarm_id", "a1"),
		Int("n", 2),
		Int64("version", 7),
		Bool("repeat", true),
		Duration("period", time.Second),
		Err(errors.New("boom")),
		Err(nil),
	)

	m := decodeLine(t, buf.Bytes())
	want := map[string]any{
		"level":    "info",
		"message":  "armed",
		"comp":     "engine",
		"alarm_id": "a1",
		"n":        float64(2),
		"version":  float64(7),
		"repeat":   true,
		"err":      "boom",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s = %v, want %v (line %s)", k, m[k], v, buf.String())
		}
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn: %s", buf.String())
	}
	l.Error("kept")
	if m := decodeLine(t, buf.Bytes()); m["level"] != "error" || m["caller"] == nil {
		t.Fatalf("error line = %v", m)
	}
	if got := parseLevel("loud"); got != zerolog.InfoLevel {
		t.Fatalf("parseLevel(loud) = %v, want info", got)
	}

	for _, s := range []string{"", "trace", "Debug", "INFO", "warning", "error"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger not IsZero")
	}
	zero.Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop is IsZero")
	}
}

func TestCronAdapter(t *testing.T) {
	var buf bytes.Buffer
	c := Cron(NewWriter(&buf, "debug"))
	c.Error(errors.New("panic"), "job failed", "entry", 3, "dangling")

	m := decodeLine(t, buf.Bytes())
	if m["message"] != "cron: job failed" || m["entry"] != float64(3) || m["extra"] != "dangling" || m["err"] != "panic" {
		t.Fatalf("cron line = %v", m)
	}
}
