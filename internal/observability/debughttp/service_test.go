package debughttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"alarmd/internal/alarm"
	"alarmd/internal/engine"
	logx "alarmd/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	alarms []alarm.Alarm
}

func (f fakeSource) ListAlarms() []alarm.Alarm { return f.alarms }

func (f fakeSource) GetAlarm(id string) (alarm.Alarm, error) {
	for _, a := range f.alarms {
		if a.ID == id {
			return a, nil
		}
	}
	return alarm.Alarm{}, &alarm.NotFoundError{AlarmID: id}
}

func (f fakeSource) Status(id string) (engine.Status, error) {
	for _, a := range f.alarms {
		if a.ID == id {
			return engine.Status{AlarmID: id, State: engine.StateArmed}, nil
		}
	}
	return engine.Status{}, &alarm.NotFoundError{AlarmID: id}
}

func (f fakeSource) Upcoming(id string, n int) ([]engine.Occurrence, error) {
	out := make([]engine.Occurrence, n)
	for i := range out {
		out[i].At = time.Date(2030, 1, 1, i, 0, 0, 0, time.UTC)
	}
	return out, nil
}

func (fakeSource) DebugOverride() alarm.Rule { return alarm.Every(10) }

func newSource() fakeSource {
	a := alarm.NewSingle("Tea", "2030-01-01", "07:30", alarm.RingSettings{Repeat: alarm.Daily})
	a.ID = "a1"
	return fakeSource{alarms: []alarm.Alarm{a}}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	s := New(Config{}, newSource(), logx.Nop())
	h := s.Handler("")

	tests := []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusOK},
		{"/alarms", http.StatusOK},
		{"/alarms/a1?n=2", http.StatusOK},
		{"/alarms/missing", http.StatusNotFound},
		{"/alarms/a1?n=x", http.StatusBadRequest},
		{"/debug/pprof/", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Fatalf("GET %s = %d, want %d: %s", tt.path, rec.Code, tt.code, rec.Body)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alarms", nil))
	var lv listView
	if err := json.Unmarshal(rec.Body.Bytes(), &lv); err != nil {
		t.Fatal(err)
	}
	if lv.DebugOverride != "every:10s" || len(lv.Alarms) != 1 || lv.Alarms[0].Status.State != engine.StateArmed {
		t.Fatalf("list = %+v", lv)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alarms/a1?n=2", nil))
	var one struct {
		Upcoming []engine.Occurrence `json:"upcoming"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil || len(one.Upcoming) != 2 {
		t.Fatalf("one = %+v, %v", one, err)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	h := New(Config{}, newSource(), logx.Nop()).Handler("s3cret")
	tests := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{"none", "/healthz", "", http.StatusUnauthorized},
		{"query", "/healthz?token=s3cret", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer s3cret", http.StatusOK},
		{"wrong", "/healthz", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Fatalf("%s: code %d, want %d", tt.name, rec.Code, tt.code)
		}
	}
}

func TestServeLifecycle(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, newSource(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatal("server never bound")
	}
	tr := &http.Transport{DisableKeepAlives: true}
	defer tr.CloseIdleConnections()
	resp, err := (&http.Client{Transport: tr}).Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("healthz = %q", body)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("still serving after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:6061": true,
		"localhost:1":    true,
		"[::1]:1":        true,
		":6061":          false,
		"0.0.0.0:1":      false,
		"10.0.0.2:1":     false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
