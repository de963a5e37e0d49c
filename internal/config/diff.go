package config

import (
	"strings"

	logx "alarmd/pkg/logx"
)

// SummarizeConfigChange lists the changed sections with log-safe fields for
// each. Secrets such as the Telegram token are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oe, ne := oldCfg.Engine, newCfg.Engine
	if strings.TrimSpace(oe.Timezone) != strings.TrimSpace(ne.Timezone) ||
		strings.TrimSpace(oe.DebugOverride) != strings.TrimSpace(ne.DebugOverride) ||
		strings.TrimSpace(oe.CallTimeout) != strings.TrimSpace(ne.CallTimeout) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.timezone", strings.TrimSpace(ne.Timezone)),
			logx.String("engine.debug_override", strings.TrimSpace(ne.DebugOverride)),
			logx.String("engine.call_timeout", strings.TrimSpace(ne.CallTimeout)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.watch", newCfg.Storage.Watch),
		)
	}

	or, nr := oldCfg.Ringer, newCfg.Ringer
	ot, nt := or.Telegram, nr.Telegram
	or.Telegram, nr.Telegram = TelegramConfig{}, TelegramConfig{}
	if or != nr {
		changed = append(changed, "ringer")
		attrs = append(attrs,
			logx.Bool("ringer.enabled", nr.Enabled),
			logx.Int("ringer.workers", nr.Workers),
			logx.Int("ringer.rate_per_sec", nr.RatePerSec),
			logx.String("ringer.dedup_window", nr.DedupWindow),
		)
	}
	if ot != nt {
		changed = append(changed, "ringer.telegram")
		attrs = append(attrs,
			logx.Bool("ringer.telegram.enabled", nt.Enabled),
			logx.Bool("ringer.telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int64("ringer.telegram.chat_id", nt.ChatID),
		)
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug_http")
		attrs = append(attrs,
			logx.Bool("debug_http.enabled", newCfg.Debug.Enabled),
			logx.String("debug_http.addr", newCfg.Debug.Addr),
			logx.Bool("debug_http.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}
	return changed, attrs
}
