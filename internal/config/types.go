// Package config loads and hot-reloads the alarmd daemon configuration.
//
// Files are JSON, or YAML when the extension is .yaml/.yml. Both are decoded
// strictly: unknown keys are errors. All durations are Go duration strings
// ("500ms", "10s", "1m").
package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`
	Storage StorageConfig `json:"storage"`
	Ringer  RingerConfig  `json:"ringer"`
	Debug   DebugConfig   `json:"debug_http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls scheduling. Timezone and debug_override are applied
// live; every armed trigger is reconciled when they change.
type EngineConfig struct {
	// Timezone is an IANA name. Empty means the host local zone.
	Timezone string `json:"timezone,omitempty"`
	// DebugOverride replaces every trigger's repeat rule
	// (none, daily, weekly, hourly, minutely, every:30s).
	DebugOverride string `json:"debug_override,omitempty"`
	CallTimeout   string `json:"call_timeout,omitempty"`
}

// StorageConfig selects the alarm persistence driver. Changes require a
// restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./alarms.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Watch resyncs the engine when another process rewrites a file store.
	Watch bool `json:"watch,omitempty"`
}

// RingerConfig controls delivery of fired alarms.
type RingerConfig struct {
	Enabled         bool           `json:"enabled"`
	Workers         int            `json:"workers,omitempty"`
	QueueSize       int            `json:"queue_size,omitempty"`
	RatePerSec      int            `json:"rate_per_sec,omitempty"`
	RetryMax        int            `json:"retry_max,omitempty"`
	RetryBase       string         `json:"retry_base,omitempty"`
	RetryMaxDelay   string         `json:"retry_max_delay,omitempty"`
	DedupWindow     string         `json:"dedup_window,omitempty"`
	DedupMaxEntries int            `json:"dedup_max_entries,omitempty"`
	Telegram        TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // never logged
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// DebugConfig controls the local inspection endpoint (health, alarm status,
// pprof). A non-loopback addr requires token unless allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file", Path: "./alarms.json", Watch: true},
		Ringer:  RingerConfig{Enabled: true},
	}
}
