package config

import (
	"sort"
	"strings"

	logx "hubbub/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the credential entries whose source definition changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage. Nil means in-memory.
	oldS := derefStorage(oldCfg.Storage)
	newS := derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	// Slack transport
	if oldCfg.Slack != newCfg.Slack {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.String("slack.base_url", strings.TrimSpace(newCfg.Slack.BaseURL)),
			logx.String("slack.request_timeout", strings.TrimSpace(newCfg.Slack.RequestTimeout)),
			logx.Int("slack.max_retries", newCfg.Slack.MaxRetries),
			logx.Int("slack.rate_per_minute", newCfg.Slack.RatePerMinute),
		)
	}

	// Credentials (summarize only; values never logged)
	credChanged := diffCredentials(oldCfg.Credentials, newCfg.Credentials)
	if len(credChanged) > 0 {
		changed = append(changed, "credentials")
		attrs = append(attrs,
			logx.Int("credentials.changed_count", len(credChanged)),
			logx.Int("credentials.total_count", len(newCfg.Credentials)),
		)
	}

	// Telegram sink (never log token)
	oldT := derefTelegram(oldCfg.Telegram)
	newT := derefTelegram(newCfg.Telegram)
	if oldT != newT {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newT.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newT.Token) != ""),
			logx.Bool("telegram.chat_set", newT.ChatID != 0),
			logx.Int("telegram.queue_size", newT.QueueSize),
			logx.Int("telegram.rate_per_sec", newT.RatePerSec),
			logx.Int("telegram.retry_max", newT.RetryMax),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs, credChanged
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}

// diffCredentials returns the names whose source definition changed, was
// added, or was removed. Values are compared but never surfaced.
func diffCredentials(oldM, newM map[string]CredentialConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
