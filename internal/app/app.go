// Package app wires the engine together: process config, logging, storage,
// credentials, the transport client, the aggregator with its watchers, and
// the optional sink and debug surfaces. It owns the hot-reload fan-out and
// the bounded-step shutdown sequence.
package app

import (
	"context"
	"fmt"
	"time"

	"hubbub/internal/aggregator"
	"hubbub/internal/config"
	"hubbub/internal/creds"
	"hubbub/internal/eventbus"
	"hubbub/internal/observability/pprof"
	sinktg "hubbub/internal/sink/telegram"
	"hubbub/internal/slack"
	"hubbub/internal/storage"
	"hubbub/internal/watcher/slackwatch"
	logx "hubbub/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	keyring *creds.Keyring
	slackc  *slack.Client

	agg   *aggregator.Service
	sink  *sinktg.Service
	pprof *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if sc.Driver != "" {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	keyring := creds.NewKeyring(logSvc.Logger().With(logx.String("comp", "creds")))
	installCredentials(keyring, cfg.Credentials)

	slackCfg, err := mapSlackConfig(cfg)
	if err != nil {
		return nil, err
	}
	slackc := slack.New(slackCfg, logSvc.Logger().With(logx.String("comp", "slack")))

	agg := aggregator.New(context.Background(), aggregator.Deps{
		Store: store,
		Bus:   bus,
		Log:   logSvc.Logger(),
	})
	agg.Register(slackwatch.New(agg.Config().Slack, slackwatch.Deps{
		Client: slackc,
		Creds:  keyring,
		Sink:   agg,
		Bus:    bus,
		Log:    logSvc.Logger(),
	}))

	sinkCfg, err := mapSinkConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink := sinktg.New(sinkCfg, sinktg.Deps{
		Bus: bus,
		Log: logSvc.Logger(),
	})

	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(ppc, logSvc.Logger().With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		keyring: keyring,
		slackc:  slackc,
		agg:     agg,
		sink:    sink,
		pprof:   pprofSvc,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional reload: a config that fails validation never reaches
	// subscribers.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		return cfg.Validate()
	})

	a.agg.Start(a.sup.Context())
	if started, ok := a.agg.StartWatching(); !ok {
		a.log.Info("watching disabled by aggregate config; engine idle until enabled")
	} else {
		a.log.Info("watching started", logx.Any("sources", started))
	}

	if a.sink.Enabled() {
		a.sink.Start(a.sup.Context())
	}
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Debug visibility into everything crossing the bus.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Producers stop before the sink so its queue can drain, then the debug
	// server, storage, and finally the supervised loops.
	a.step(ctx, "aggregator", 3*time.Second, func(c context.Context) error {
		a.agg.Stop(c)
		return nil
	})
	a.step(ctx, "sink", 2*time.Second, func(c context.Context) error {
		a.sink.Stop(c)
		return nil
	})
	a.step(ctx, "pprof", time.Second, func(c context.Context) error {
		a.pprof.Stop(c)
		return nil
	})
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		return a.store.Close()
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown phase with an upper bound so a stuck component
// cannot stall the whole stop. fn must honor its context; if it overruns the
// deadline the step is abandoned and its eventual completion is logged.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	var cancel context.CancelFunc
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			rem := time.Until(dl)
			if rem <= 0 {
				max = 0
			} else if rem < max {
				max = rem
			}
		}
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		elapsed := time.Since(start)
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.String("err", stepCtx.Err().Error()),
			logx.Duration("elapsed", elapsed),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
