package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hubbub/internal/eventbus"
	"hubbub/internal/feed"
	"hubbub/internal/storage"
	"hubbub/internal/watcher"
	logx "hubbub/pkg/logx"
)

const (
	cacheLimit       = 500
	defaultListLimit = 100
	seenTTL          = 24 * time.Hour
	sweepSpec        = "@every 1h"
)

type Deps struct {
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
}

// Service is the orchestrator. Watchers are registered by source (last
// registration wins), started and stopped as a group, and reconciled against
// the aggregate config on every update. Accepted notifications land in a
// bounded FIFO cache that is persisted after each mutation.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu       sync.Mutex
	cfg      feed.Config
	watchers map[feed.Source]watcher.Watcher
	order    []feed.Source
	watching bool
	items    []feed.Notification
	seen     map[string]time.Time
	runCtx   context.Context
	cron     *cron.Cron
	closed   bool
}

// New builds the service and loads both persisted documents. A missing or
// corrupt document degrades to defaults; construction itself cannot fail.
func New(ctx context.Context, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log.With(logx.String("comp", "aggregator")),
		bus:      deps.Bus,
		store:    deps.Store,
		cfg:      feed.DefaultConfig(),
		watchers: map[feed.Source]watcher.Watcher{},
		seen:     map[string]time.Time{},
		runCtx:   context.Background(),
	}
	s.loadState(ctx)
	return s
}

// Start records the lifecycle context used for watcher sessions and begins
// the hourly seen-cache sweep. It does not start watching; that is an
// explicit operation.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cron != nil {
		return
	}
	s.runCtx = ctx
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(sweepSpec, func() {
		if n := s.sweepSeen(time.Now()); n > 0 {
			s.log.Debug("seen cache swept", logx.Int("evicted", n))
		}
	}); err != nil {
		s.log.Error("schedule sweep", logx.Err(err))
	}
	s.cron.Start()
	s.log.Debug("service started", logx.String("sweep", sweepSpec))
}

// Stop halts watching and the sweep. Safe to call more than once.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	c := s.cron
	s.cron = nil
	s.watching = false
	toStop := s.activeWatchersLocked()
	s.mu.Unlock()

	start := time.Now()
	for _, it := range toStop {
		it.w.Stop()
		s.publish(feed.EventWatchStopped, feed.WatchEvent{Source: it.src})
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped",
		logx.Int("stopped", len(toStop)),
		logx.Duration("took", time.Since(start)))
}

// Register installs a watcher for its source, replacing any previous one.
// The newcomer immediately receives the current aggregate config; if the
// group is watching and the source is enabled it is started in place of the
// replaced watcher.
func (s *Service) Register(w watcher.Watcher) {
	src := w.Source()

	s.mu.Lock()
	old, existed := s.watchers[src]
	s.watchers[src] = w
	if !existed {
		s.order = append(s.order, src)
	}
	cfg := s.cfg.Clone()
	ctx := s.runCtx
	startNew := !s.closed && s.watching && s.cfg.Enabled && s.sectionEnabledLocked(src)
	s.mu.Unlock()

	if existed && old != w && old.Active() {
		old.Stop()
	}
	w.Apply(cfg)
	if startNew && !w.Active() {
		w.Start(ctx)
		s.publish(feed.EventWatchStarted, feed.WatchEvent{Source: src})
	}
	s.log.Debug("watcher registered",
		logx.String("source", string(src)),
		logx.Bool("replaced", existed))
}

// StartWatching enables the watching group. It reports false without
// touching any watcher when the aggregate config is globally disabled;
// otherwise it starts every enabled, inactive watcher and returns the
// sources started by this call.
func (s *Service) StartWatching() ([]feed.Source, bool) {
	s.mu.Lock()
	if s.closed || !s.cfg.Enabled {
		s.mu.Unlock()
		return nil, false
	}
	s.watching = true
	ctx := s.runCtx
	var toStart []watcherRef
	for _, src := range s.order {
		w := s.watchers[src]
		if w == nil || w.Active() || !s.sectionEnabledLocked(src) {
			continue
		}
		toStart = append(toStart, watcherRef{src: src, w: w})
	}
	s.mu.Unlock()

	started := make([]feed.Source, 0, len(toStart))
	for _, it := range toStart {
		it.w.Start(ctx)
		started = append(started, it.src)
		s.publish(feed.EventWatchStarted, feed.WatchEvent{Source: it.src})
	}
	if len(started) > 0 {
		s.log.Info("watching started", logx.Any("sources", started))
	}
	return started, true
}

// StopWatching stops every active watcher and returns the sources stopped.
func (s *Service) StopWatching() []feed.Source {
	s.mu.Lock()
	s.watching = false
	toStop := s.activeWatchersLocked()
	s.mu.Unlock()

	stopped := make([]feed.Source, 0, len(toStop))
	for _, it := range toStop {
		it.w.Stop()
		stopped = append(stopped, it.src)
		s.publish(feed.EventWatchStopped, feed.WatchEvent{Source: it.src})
	}
	if len(stopped) > 0 {
		s.log.Info("watching stopped", logx.Any("sources", stopped))
	}
	return stopped
}

// SourceStatus is one watcher's slice of Status.
type SourceStatus struct {
	Source    feed.Source `json:"source"`
	Active    bool        `json:"active"`
	LastPoll  time.Time   `json:"lastPoll"`
	LastError string      `json:"lastError,omitempty"`
}

type Status struct {
	Watching      bool           `json:"watching"`
	ActiveSources []feed.Source  `json:"activeSources"`
	Sources       []SourceStatus `json:"sources"`
}

func (s *Service) Status() Status {
	s.mu.Lock()
	watching := s.watching
	refs := make([]watcherRef, 0, len(s.order))
	for _, src := range s.order {
		if w := s.watchers[src]; w != nil {
			refs = append(refs, watcherRef{src: src, w: w})
		}
	}
	s.mu.Unlock()

	st := Status{
		Watching:      watching,
		ActiveSources: []feed.Source{},
		Sources:       make([]SourceStatus, 0, len(refs)),
	}
	for _, it := range refs {
		ss := SourceStatus{
			Source:   it.src,
			Active:   it.w.Active(),
			LastPoll: it.w.LastPoll(),
		}
		if err := it.w.LastErr(); err != nil {
			ss.LastError = err.Error()
		}
		if ss.Active {
			st.ActiveSources = append(st.ActiveSources, it.src)
		}
		st.Sources = append(st.Sources, ss)
	}
	return st
}

type watcherRef struct {
	src feed.Source
	w   watcher.Watcher
}

func (s *Service) activeWatchersLocked() []watcherRef {
	var out []watcherRef
	for _, src := range s.order {
		if w := s.watchers[src]; w != nil && w.Active() {
			out = append(out, watcherRef{src: src, w: w})
		}
	}
	return out
}

func (s *Service) sectionEnabledLocked(src feed.Source) bool {
	switch src {
	case feed.SourceSlack:
		return s.cfg.Slack.Enabled
	case feed.SourceGitHub:
		return s.cfg.GitHub.Enabled
	default:
		// Sources without a config section follow the global flag only.
		return true
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
