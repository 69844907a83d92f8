// Package slackwatch polls Slack conversations and turns new messages into
// feed notifications: DMs, mentions, thread replies and plain channel
// traffic, filtered and classified per configuration.
package slackwatch

import (
	"context"
	"sync"
	"time"

	"hubbub/internal/creds"
	"hubbub/internal/eventbus"
	"hubbub/internal/feed"
	"hubbub/internal/slack"
	"hubbub/internal/watcher"
	logx "hubbub/pkg/logx"
)

const historyLimit = 100

// Client is the transport surface the watcher consumes.
type Client interface {
	AuthTest(ctx context.Context, token string) (slack.AuthInfo, error)
	ListChannels(ctx context.Context, token string) ([]slack.Channel, error)
	History(ctx context.Context, token, channelID, oldest string, limit int) ([]slack.Message, error)
}

type Deps struct {
	Client Client
	Creds  creds.Provider
	Sink   watcher.Sink
	Bus    eventbus.Bus
	Log    logx.Logger
	Clock  watcher.Clock
}

// Watcher implements watcher.Watcher for Slack. Scheduling, coalescing and
// backoff live in the embedded Runner; this type owns channel selection, the
// incremental cursor and message classification.
type Watcher struct {
	deps Deps
	log  logx.Logger
	run  *watcher.Runner

	mu           sync.Mutex
	cfg          feed.SlackConfig
	cursor       string // newest retained upstream ts; process lifetime only
	workspaceURL string
	urlResolved  bool
}

func New(cfg feed.SlackConfig, deps Deps) *Watcher {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("source", string(feed.SourceSlack)))

	w := &Watcher{deps: deps, log: log, cfg: cfg}
	w.run = watcher.NewRunner(watcher.RunnerConfig{
		Source:   feed.SourceSlack,
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}, watcher.RunnerDeps{
		Fetch: w.fetch,
		Sink:  deps.Sink,
		Bus:   deps.Bus,
		Log:   log,
		Clock: deps.Clock,
	})
	return w
}

func (w *Watcher) Source() feed.Source { return feed.SourceSlack }

func (w *Watcher) Start(ctx context.Context) { w.run.Start(ctx) }

func (w *Watcher) Stop() { w.run.Stop() }

func (w *Watcher) Active() bool { return w.run.Active() }

func (w *Watcher) Poll(ctx context.Context) ([]feed.Notification, error) {
	return w.run.Poll(ctx)
}

func (w *Watcher) LastPoll() time.Time { return w.run.LastPoll() }

func (w *Watcher) LastErr() error { return w.run.LastErr() }

// Backoff exposes the runner's current failure backoff for status output.
func (w *Watcher) Backoff() time.Duration { return w.run.Backoff() }

// Cursor returns the incremental fetch cursor (empty until the first
// successful cycle that retained an item).
func (w *Watcher) Cursor() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Apply installs the slack section of a new aggregate config. The interval
// change takes effect on the next timer re-arm; enable/disable transitions
// are the aggregator's job.
func (w *Watcher) Apply(cfg feed.Config) {
	w.mu.Lock()
	w.cfg = cfg.Slack
	w.mu.Unlock()
	w.run.SetInterval(time.Duration(cfg.Slack.PollIntervalSeconds) * time.Second)
}

func (w *Watcher) snapshot() (feed.SlackConfig, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.cursor
}
