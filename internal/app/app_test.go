package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/storage"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      config.StorageConfig
		want    storage.Config
		wantErr bool
	}{
		{name: "default file", in: config.StorageConfig{}, want: storage.Config{Driver: "file", Path: "./alarms.json"}},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite3", Path: "a.db", BusyTimeout: "3s"}, want: storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: 3 * time.Second}},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "sqlite", Path: "a.db"}, want: storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: time.Second}},
		{name: "sqlite no path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "memory", in: config.StorageConfig{Driver: "mem"}, want: storage.Config{Driver: "memory"}},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()

	got, err := MapEngineConfig(&config.Config{Engine: config.EngineConfig{
		Timezone:      "UTC",
		DebugOverride: "every:10s",
		CallTimeout:   "2s",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Location.String() != "UTC" || got.Override != alarm.Every(10) || got.CallTimeout != 2*time.Second {
		t.Fatalf("got %+v", got)
	}

	for _, ec := range []config.EngineConfig{
		{Timezone: "Nowhere/Land"},
		{DebugOverride: "fortnightly"},
		{CallTimeout: "-1s"},
	} {
		if _, err := MapEngineConfig(&config.Config{Engine: ec}); err == nil {
			t.Fatalf("MapEngineConfig(%+v) accepted", ec)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := config.Default()
	if err := validate(context.Background(), ok); err != nil {
		t.Fatalf("default rejected: %v", err)
	}

	bad := []func(*config.Config){
		func(c *config.Config) { c.Logging.Level = "loud" },
		func(c *config.Config) { c.Ringer.Workers = -1 },
		func(c *config.Config) { c.Ringer.DedupWindow = "soon" },
		func(c *config.Config) { c.Ringer.Telegram.Enabled = true },
		func(c *config.Config) { c.Debug.ReadTimeout = "-1s" },
	}
	for i, mutate := range bad {
		c := config.Default()
		mutate(c)
		if err := validate(context.Background(), c); err == nil {
			t.Fatalf("case %d accepted", i)
		}
	}
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "alarmd.yaml")
	doc := "logging:\n  level: error\n" +
		"engine:\n  timezone: UTC\n" +
		"storage:\n  driver: file\n  path: " + filepath.Join(dir, "alarms.json") + "\n" +
		"ringer:\n  enabled: true\n  dedup_window: 1m\n"
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := NewApp(ctx, cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	events, unsub := a.Bus().Subscribe(16)
	defer unsub()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fire := time.Now().UTC().Add(time.Hour)
	created, err := a.Engine().Create(ctx, alarm.NewSingle("Tea", fire.Format("2006-01-02"), fire.Format("15:04:05"), alarm.RingSettings{}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	st, err := a.Engine().Status(created.ID)
	if err != nil || st.NextFire.IsZero() {
		t.Fatalf("Status = %+v, %v", st, err)
	}

	select {
	case e := <-events:
		if e.Type != eventbus.AlarmCreated {
			t.Fatalf("first event %q", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alarm.created event")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The alarm was flushed to the file store.
	b, err := os.ReadFile(filepath.Join(dir, "alarms.json"))
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := storage.Decode(b)
	if err != nil || len(loaded) != 1 || loaded[0].ID != created.ID {
		t.Fatalf("persisted %v, %v", loaded, err)
	}
}
