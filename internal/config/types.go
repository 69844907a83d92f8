package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the process-level configuration: logging, storage, transport,
// credentials and the optional sink and debug surfaces. It is read from a
// JSON or YAML file and hot-reloaded on change.
//
// Watcher behavior (intervals, channels, keyword filters) is NOT configured
// here; that plane is owned by the aggregator and persisted separately.
type Config struct {
	Logging     LoggingConfig               `json:"logging"`
	Storage     *StorageConfig              `json:"storage,omitempty"`
	Slack       SlackConfig                 `json:"slack"`
	Credentials map[string]CredentialConfig `json:"credentials"`
	Telegram    *TelegramConfig             `json:"telegram,omitempty"`
	Pprof       PprofConfig                 `json:"pprof,omitempty"`
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

// StorageConfig controls the persistence layer. Nil means in-memory (no
// durability).
//
// Example:
//
//	"storage": { "driver": "file", "path": "./hubbub_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SlackConfig tunes the transport client, not the watcher.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type SlackConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
	RetryInitial   string `json:"retry_initial,omitempty"`
	RatePerMinute  int    `json:"rate_per_minute,omitempty"`
}

// CredentialConfig describes one service's token source. Exactly one of
// Token / TokenEnv / TokenFile should be set; TokenFile may carry the
// refresh fields for expiring tokens.
type CredentialConfig struct {
	Token        string `json:"token,omitempty"`
	TokenEnv     string `json:"token_env,omitempty"`
	TokenFile    string `json:"token_file,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshURL   string `json:"refresh_url,omitempty"`
}

// TelegramConfig controls the optional forwarding sink.
type TelegramConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token"`
	ChatID        int64  `json:"chat_id"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback bind requires a token or an
// explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /profile, which can take 30s+, works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Validate rejects configs that would fail later in a harder-to-diagnose
// place. It is also installed as the manager's reload validator so a bad
// edit never reaches subscribers.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if _, err := ParseDurationField("slack.request_timeout", c.Slack.RequestTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("slack.retry_initial", c.Slack.RetryInitial); err != nil {
		return err
	}
	if c.Slack.MaxRetries < 0 {
		return errors.New("slack.max_retries must be >= 0")
	}
	if c.Slack.RatePerMinute < 0 {
		return errors.New("slack.rate_per_minute must be >= 0")
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	for name, cc := range c.Credentials {
		set := 0
		if strings.TrimSpace(cc.Token) != "" {
			set++
		}
		if strings.TrimSpace(cc.TokenEnv) != "" {
			set++
		}
		if strings.TrimSpace(cc.TokenFile) != "" {
			set++
		}
		if set == 0 {
			return fmt.Errorf("credentials.%s: one of token, token_env, token_file is required", name)
		}
	}

	if t := c.Telegram; t != nil {
		if t.Enabled && strings.TrimSpace(t.Token) == "" {
			return errors.New("telegram.token is required when the sink is enabled")
		}
		if t.Enabled && t.ChatID == 0 {
			return errors.New("telegram.chat_id is required when the sink is enabled")
		}
		for path, raw := range map[string]string{
			"telegram.retry_base":      t.RetryBase,
			"telegram.retry_max_delay": t.RetryMaxDelay,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	p := &c.Pprof
	if p.Enabled {
		addr := strings.TrimSpace(p.Addr)
		if addr != "" && !isLoopbackAddr(addr) && strings.TrimSpace(p.Token) == "" && !p.AllowInsecure {
			return errors.New("pprof: non-loopback addr needs a token or allow_insecure")
		}
		for path, raw := range map[string]string{
			"pprof.read_timeout":  p.ReadTimeout,
			"pprof.write_timeout": p.WriteTimeout,
			"pprof.idle_timeout":  p.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	return nil
}

func isLoopbackAddr(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	host = strings.Trim(host, "[]")
	switch host {
	case "localhost", "127.0.0.1", "::1", "":
		return true
	}
	return strings.HasPrefix(host, "127.")
}
