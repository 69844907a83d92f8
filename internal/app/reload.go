package app

import (
	"context"
	"strings"
	"time"

	logx "hubbub/pkg/logx"
)

// reloadLoop consumes validated config updates and applies them live where a
// component supports it. Storage and the transport client are constructed
// once; changes there are surfaced as restart-required warnings.
func (a *App) reloadLoop(ctx context.Context, sub chan *Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latestConfig(sub, newCfg)

			sections, attrs, credChanged := SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.log.Debug("config change summary",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			lastApplied = newCfg

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
				case "storage":
					a.log.Warn("storage config changed; restart required for changes to take effect")
				case "slack":
					a.log.Warn("slack transport config changed; restart required for changes to take effect")
				case "credentials":
					a.applyCredentials(newCfg, credChanged)
				case "telegram":
					a.applySink(ctx, newCfg)
				case "pprof":
					ppc, err := mapPprofConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid pprof config; keeping previous", logx.Any("err", err))
						continue
					}
					a.pprof.Reconfigure(ctx, ppc)
				}
			}

			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
		}
	}
}

// latestConfig drains queued updates so a burst of edits applies once.
func latestConfig(sub chan *Config, cur *Config) *Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyCredentials(cfg *Config, changed []string) {
	for _, name := range changed {
		a.keyring.SetSource(name, credSource(cfg.Credentials[name]))
	}
	a.log.Info("credential sources updated", logx.Any("services", changed))
}

func (a *App) applySink(ctx context.Context, cfg *Config) {
	sc, err := mapSinkConfig(cfg)
	if err != nil {
		a.log.Warn("invalid telegram config; keeping previous", logx.Any("err", err))
		return
	}
	prevEnabled := a.sink.Enabled()
	a.sink.Apply(sc)
	switch {
	case prevEnabled && !sc.Enabled:
		a.log.Info("telegram sink disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sink.Stop(stopCtx)
		cancel()
	case !prevEnabled && sc.Enabled:
		a.log.Info("telegram sink enabled via config")
		a.sink.Start(ctx)
	}
}
