package app

import (
	"fmt"
	"strings"
	"time"

	"hubbub/internal/config"
	"hubbub/internal/creds"
	"hubbub/internal/observability/pprof"
	sinktg "hubbub/internal/sink/telegram"
	"hubbub/internal/slack"
	"hubbub/internal/storage"
)

// mapStorageConfig translates the process config into a storage.Config. An
// absent section or "none" driver maps to the in-memory store.
func mapStorageConfig(cfg *Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "memory":
		return storage.Config{}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSlackConfig(cfg *Config) (slack.Config, error) {
	timeout, err := parseDurationField("slack.request_timeout", cfg.Slack.RequestTimeout)
	if err != nil {
		return slack.Config{}, err
	}
	retryInitial, err := parseDurationField("slack.retry_initial", cfg.Slack.RetryInitial)
	if err != nil {
		return slack.Config{}, err
	}
	return slack.Config{
		BaseURL:       cfg.Slack.BaseURL,
		Timeout:       timeout,
		MaxRetries:    cfg.Slack.MaxRetries,
		RetryInitial:  retryInitial,
		RatePerMinute: cfg.Slack.RatePerMinute,
	}, nil
}

func mapSinkConfig(cfg *Config) (sinktg.Config, error) {
	t := cfg.Telegram
	if t == nil {
		return sinktg.Config{}, nil
	}
	retryBase, err := parseDurationField("telegram.retry_base", t.RetryBase)
	if err != nil {
		return sinktg.Config{}, err
	}
	retryMax, err := parseDurationField("telegram.retry_max_delay", t.RetryMaxDelay)
	if err != nil {
		return sinktg.Config{}, err
	}
	return sinktg.Config{
		Enabled:       t.Enabled,
		Token:         t.Token,
		ChatID:        t.ChatID,
		QueueSize:     t.QueueSize,
		RatePerSec:    t.RatePerSec,
		RetryMax:      t.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMax,
	}, nil
}

func mapPprofConfig(cfg *Config) (pprof.Config, error) {
	p := cfg.Pprof
	read, err := parseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := parseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := parseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          p.Addr,
		Prefix:        p.Prefix,
		Token:         p.Token,
		AllowInsecure: p.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func credSource(c config.CredentialConfig) creds.Source {
	return creds.Source{
		Token:        c.Token,
		TokenEnv:     c.TokenEnv,
		TokenFile:    c.TokenFile,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RefreshURL:   c.RefreshURL,
	}
}

func installCredentials(k *creds.Keyring, sources map[string]config.CredentialConfig) {
	for name, c := range sources {
		k.SetSource(name, credSource(c))
	}
}
