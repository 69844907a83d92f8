// Package watcher defines the contract every per-source poller implements
// and the Runner, the shared timer loop that drives one poller: fixed-rate
// scheduling with a floor, coalescing of overlapping ticks, failure backoff
// tracking, and status events.
package watcher

import (
	"context"
	"time"

	"hubbub/internal/feed"
)

// Watcher is the capability set the aggregator manages. Implementations are
// Idle after construction, Active between Start and Stop, and must tolerate
// redundant Start/Stop calls.
type Watcher interface {
	Source() feed.Source

	// Start begins the polling schedule. ctx bounds the whole watching
	// session: cancelling it stops in-flight work too, unlike Stop.
	Start(ctx context.Context)

	// Stop halts the schedule. A poll already in flight completes and may
	// still deliver its batch; ingestion dedup makes that harmless.
	Stop()

	Active() bool

	// Poll runs one cycle on demand, outside the schedule. If a cycle is
	// already in flight the call returns an empty batch immediately without
	// touching the upstream.
	Poll(ctx context.Context) ([]feed.Notification, error)

	LastPoll() time.Time
	LastErr() error

	// Apply installs new configuration without a restart.
	Apply(cfg feed.Config)
}

// Sink receives every notification a poll cycle produced. The aggregator is
// the only production implementation; its ingestion is idempotent, so
// watchers deliver without worrying about duplicates.
type Sink interface {
	Ingest(ctx context.Context, n feed.Notification) bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, n feed.Notification) bool

func (f SinkFunc) Ingest(ctx context.Context, n feed.Notification) bool { return f(ctx, n) }
