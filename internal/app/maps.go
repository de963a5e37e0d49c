package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/engine"
	"alarmd/internal/observability/debughttp"
	"alarmd/internal/ringer"
	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// MapStorageConfig is shared with the CLI, which opens the same store.
func MapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = "./alarms.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// MapEngineConfig resolves timezone, override and call timeout.
func MapEngineConfig(cfg *config.Config) (engine.Config, error) {
	loc, err := config.ParseLocation("engine.timezone", cfg.Engine.Timezone)
	if err != nil {
		return engine.Config{}, err
	}
	override, err := alarm.ParseRule(cfg.Engine.DebugOverride)
	if err != nil {
		return engine.Config{}, fmt.Errorf("engine.debug_override: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("engine.call_timeout", cfg.Engine.CallTimeout, 5*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{Location: loc, Override: override, CallTimeout: timeout}, nil
}

func mapRingerConfig(cfg *config.Config) (ringer.Config, error) {
	rc := cfg.Ringer
	for name, v := range map[string]int{
		"ringer.workers":           rc.Workers,
		"ringer.queue_size":        rc.QueueSize,
		"ringer.rate_per_sec":      rc.RatePerSec,
		"ringer.retry_max":         rc.RetryMax,
		"ringer.dedup_max_entries": rc.DedupMaxEntries,
	} {
		if v < 0 {
			return ringer.Config{}, fmt.Errorf("%s must be >= 0", name)
		}
	}
	retryBase, err := config.ParseDurationOrDefault("ringer.retry_base", rc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return ringer.Config{}, err
	}
	retryMax, err := config.ParseDurationOrDefault("ringer.retry_max_delay", rc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return ringer.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("ringer.dedup_window", rc.DedupWindow, 10*time.Minute)
	if err != nil {
		return ringer.Config{}, err
	}
	retries := rc.RetryMax
	if retries == 0 {
		retries = 3
	}
	return ringer.Config{
		Enabled:         rc.Enabled,
		Workers:         rc.Workers,
		QueueSize:       rc.QueueSize,
		RatePerSec:      rc.RatePerSec,
		RetryMax:        retries,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMax,
		DedupWindow:     dedup,
		DedupMaxEntries: rc.DedupMaxEntries,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	dc := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug_http.read_timeout", dc.ReadTimeout, 10*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	// profile and trace stream for up to 30s by default.
	wt, err := config.ParseDurationOrDefault("debug_http.write_timeout", dc.WriteTimeout, 60*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	return debughttp.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}

// buildSinks always includes the log sink; Telegram is added when enabled.
func buildSinks(cfg *config.Config, log logx.Logger) ([]ringer.Sink, error) {
	sinks := []ringer.Sink{ringer.LogSink{Log: log}}
	tc := cfg.Ringer.Telegram
	if !tc.Enabled {
		return sinks, nil
	}
	tg, err := ringer.NewTelegram(ringer.TelegramConfig{Token: tc.Token, ChatID: tc.ChatID, ThreadID: tc.ThreadID})
	if err != nil {
		return nil, fmt.Errorf("ringer.telegram: %w", err)
	}
	return append(sinks, tg), nil
}

// validate rejects a config before it is committed, on load and on reload.
func validate(_ context.Context, cfg *config.Config) error {
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return fmt.Errorf("logging.level: invalid %q", lvl)
	}
	if _, err := MapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := MapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRingerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if tc := cfg.Ringer.Telegram; tc.Enabled {
		if strings.TrimSpace(tc.Token) == "" || tc.ChatID == 0 {
			return fmt.Errorf("ringer.telegram: token and chat_id are required when enabled")
		}
	}
	return nil
}
