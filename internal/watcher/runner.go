package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hubbub/internal/eventbus"
	"hubbub/internal/feed"
	logx "hubbub/pkg/logx"
)

const (
	// MinInterval is the schedule floor: a misconfigured sub-second interval
	// must not hammer a rate-limited upstream.
	MinInterval = 10 * time.Second

	DefaultBackoffInitial = 5 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// FetchFunc runs one source-specific poll cycle and returns the candidate
// notifications it discovered.
type FetchFunc func(ctx context.Context) ([]feed.Notification, error)

type RunnerConfig struct {
	Source   feed.Source
	Interval time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type RunnerDeps struct {
	Fetch FetchFunc
	Sink  Sink
	Bus   eventbus.Bus
	Log   logx.Logger
	Clock Clock
}

// Runner drives one poller: an immediate cycle on Start, then one cycle per
// interval. Overlapping ticks coalesce into no-ops instead of queueing.
//
// Failures grow an internal backoff value (doubled per consecutive failure,
// capped, reset by success). The backoff is surfaced for status output; the
// timer is re-armed at the fixed effective interval regardless.
type Runner struct {
	source feed.Source
	deps   RunnerDeps
	clock  Clock

	backoffInitial time.Duration
	backoffMax     time.Duration

	mu       sync.Mutex
	interval time.Duration
	active   bool
	stopCh   chan struct{}
	inFlight bool
	lastPoll time.Time
	lastErr  error
	backoff  time.Duration
	failing  bool
}

func NewRunner(cfg RunnerConfig, deps RunnerDeps) *Runner {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	bi := cfg.BackoffInitial
	if bi <= 0 {
		bi = DefaultBackoffInitial
	}
	bm := cfg.BackoffMax
	if bm < bi {
		bm = DefaultBackoffMax
	}
	return &Runner{
		source:         cfg.Source,
		deps:           deps,
		clock:          deps.Clock,
		backoffInitial: bi,
		backoffMax:     bm,
		interval:       cfg.Interval,
		backoff:        bi,
	}
}

func (r *Runner) Source() feed.Source { return r.source }

// EffectiveInterval is the configured interval clamped to the floor.
func (r *Runner) EffectiveInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return effectiveInterval(r.interval)
}

func effectiveInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// SetInterval changes the configured interval. The new value takes effect
// when the timer is next re-armed (after the current tick).
func (r *Runner) SetInterval(d time.Duration) {
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) LastPoll() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPoll
}

func (r *Runner) LastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Backoff returns the current failure backoff value.
func (r *Runner) Backoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoff
}

// Start launches the schedule loop. Redundant calls are no-ops.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	r.active = true
	stop := make(chan struct{})
	r.stopCh = stop
	r.mu.Unlock()

	go r.loop(ctx, stop)
}

// Stop halts the schedule. It does not cancel a cycle already in flight;
// that cycle finishes against Start's context and may deliver late.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	stop := r.stopCh
	r.stopCh = nil
	r.mu.Unlock()

	close(stop)
}

func (r *Runner) loop(ctx context.Context, stop <-chan struct{}) {
	// First cycle right away; waiting a full interval after Start makes the
	// feed look dead.
	_, _ = r.Poll(ctx)

	t := r.clock.NewTimer(r.EffectiveInterval())
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C():
			// A tick can race Stop; losing that race must not trigger one
			// more cycle.
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			_, _ = r.Poll(ctx)
			t.Reset(r.EffectiveInterval())
		}
	}
}

// Poll runs one guarded cycle: fetch, record status, hand the batch to the
// sink. A cycle already in flight turns this call into an immediate empty
// result with no upstream traffic.
func (r *Runner) Poll(ctx context.Context) ([]feed.Notification, error) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return nil, nil
	}
	r.inFlight = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	r.publish(feed.EventWatchPolling, nil)

	batch, err := r.fetch(ctx)
	now := r.clock.Now()

	r.mu.Lock()
	r.lastPoll = now
	if err != nil {
		r.lastErr = err
		if r.failing {
			r.backoff = minDuration(r.backoff*2, r.backoffMax)
		} else {
			r.failing = true
			r.backoff = r.backoffInitial
		}
	} else {
		r.lastErr = nil
		r.failing = false
		r.backoff = r.backoffInitial
	}
	r.mu.Unlock()

	if err != nil {
		r.deps.Log.Warn("poll cycle failed",
			logx.String("source", string(r.source)),
			logx.Duration("backoff", r.Backoff()),
			logx.Err(err))
		r.publish(feed.EventWatchError, err)
		return nil, err
	}

	if r.deps.Sink != nil {
		for _, n := range batch {
			r.deps.Sink.Ingest(ctx, n)
		}
	}
	return batch, nil
}

// fetch shields the loop from a panicking cycle; a panic becomes a cycle
// error like any other.
func (r *Runner) fetch(ctx context.Context) (batch []feed.Notification, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			batch = nil
			err = fmt.Errorf("panic in poll cycle: %v", rec)
		}
	}()
	if r.deps.Fetch == nil {
		return nil, nil
	}
	return r.deps.Fetch(ctx)
}

func (r *Runner) publish(eventType string, err error) {
	if r.deps.Bus == nil {
		return
	}
	ev := feed.WatchEvent{Source: r.source}
	if err != nil {
		ev.Err = err.Error()
	}
	r.deps.Bus.Publish(eventbus.Event{Type: eventType, Data: ev})
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
