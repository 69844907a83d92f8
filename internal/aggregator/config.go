package aggregator

import (
	"context"

	"hubbub/internal/feed"
	logx "hubbub/pkg/logx"
)

// Config returns a copy of the current aggregate configuration.
func (s *Service) Config() feed.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// UpdateConfig merges a patch into the aggregate configuration, persists the
// result and reconciles the watcher group: every registered watcher receives
// the new config, and while the group is watching, newly enabled sources are
// started and newly disabled ones stopped. Disabling the master switch stops
// the whole group. The merged configuration is returned.
func (s *Service) UpdateConfig(ctx context.Context, p feed.ConfigPatch) feed.Config {
	s.mu.Lock()
	if s.closed {
		cfg := s.cfg.Clone()
		s.mu.Unlock()
		return cfg
	}
	s.cfg = p.Apply(s.cfg)
	s.persistConfigLocked(ctx)

	cfg := s.cfg.Clone()
	runCtx := s.runCtx
	all := make([]watcherRef, 0, len(s.order))
	for _, src := range s.order {
		if w := s.watchers[src]; w != nil {
			all = append(all, watcherRef{src: src, w: w})
		}
	}

	var toStart, toStop []watcherRef
	switch {
	case !s.cfg.Enabled:
		if s.watching {
			s.watching = false
			toStop = s.activeWatchersLocked()
		}
	case s.watching:
		for _, it := range all {
			enabled := s.sectionEnabledLocked(it.src)
			switch {
			case enabled && !it.w.Active():
				toStart = append(toStart, it)
			case !enabled && it.w.Active():
				toStop = append(toStop, it)
			}
		}
	}
	s.mu.Unlock()

	for _, it := range all {
		it.w.Apply(cfg)
	}
	for _, it := range toStop {
		it.w.Stop()
		s.publish(feed.EventWatchStopped, feed.WatchEvent{Source: it.src})
	}
	for _, it := range toStart {
		it.w.Start(runCtx)
		s.publish(feed.EventWatchStarted, feed.WatchEvent{Source: it.src})
	}
	if len(toStart) > 0 || len(toStop) > 0 {
		s.log.Info("config reconciled watchers",
			logx.Int("started", len(toStart)),
			logx.Int("stopped", len(toStop)))
	}
	return cfg
}
