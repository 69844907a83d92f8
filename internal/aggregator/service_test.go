package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"hubbub/internal/eventbus"
	"hubbub/internal/feed"
	"hubbub/internal/storage"
	logx "hubbub/pkg/logx"
)

type fakeWatcher struct {
	src feed.Source

	mu       sync.Mutex
	active   bool
	starts   int
	stops    int
	lastPoll time.Time
	lastErr  error
	applied  []feed.Config
}

func (f *fakeWatcher) Source() feed.Source { return f.src }

func (f *fakeWatcher) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.starts++
}

func (f *fakeWatcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.stops++
}

func (f *fakeWatcher) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeWatcher) Poll(ctx context.Context) ([]feed.Notification, error) { return nil, nil }

func (f *fakeWatcher) LastPoll() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPoll
}

func (f *fakeWatcher) LastErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeWatcher) Apply(cfg feed.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cfg)
}

func (f *fakeWatcher) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func memStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func newTestService(t *testing.T, store storage.Store) *Service {
	t.Helper()
	s := New(context.Background(), Deps{
		Store: store,
		Bus:   eventbus.New(),
		Log:   logx.Nop(),
	})
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func note(id string, ts time.Time) feed.Notification {
	return feed.Notification{
		ID:        id,
		Source:    feed.SourceSlack,
		Type:      feed.TypeChannel,
		Title:     "#general",
		Body:      "body " + id,
		Timestamp: ts,
	}
}

func TestIngestDeduplicates(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	n := note("slack:C1:1.0", time.Now())

	if !s.Ingest(ctx, n) {
		t.Fatal("first ingest rejected")
	}
	if s.Ingest(ctx, n) {
		t.Fatal("duplicate ingest accepted")
	}
	if got := s.List(feed.Filter{}, 0); len(got) != 1 {
		t.Fatalf("cache holds %d items, want 1", len(got))
	}
}

func TestIngestAssignsIDWhenMissing(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	n := note("", time.Now())

	if !s.Ingest(context.Background(), n) {
		t.Fatal("ingest rejected")
	}
	got := s.List(feed.Filter{}, 0)
	if len(got) != 1 || got[0].ID == "" {
		t.Fatalf("stored item has no generated id: %+v", got)
	}
}

func TestIngestEvictsOldestBeyondCapacity(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < cacheLimit+1; i++ {
		n := note(fmt.Sprintf("id-%04d", i), base.Add(time.Duration(i)*time.Second))
		if !s.Ingest(ctx, n) {
			t.Fatalf("ingest %d rejected", i)
		}
	}

	got := s.List(feed.Filter{}, cacheLimit+10)
	if len(got) != cacheLimit {
		t.Fatalf("cache holds %d items, want %d", len(got), cacheLimit)
	}
	for _, n := range got {
		if n.ID == "id-0000" {
			t.Fatal("oldest item survived eviction")
		}
	}
	if got[0].ID != fmt.Sprintf("id-%04d", cacheLimit) {
		t.Errorf("newest item = %q", got[0].ID)
	}
}

func TestListSortsAndLimits(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	// Insert out of chronological order.
	for _, i := range []int{2, 0, 3, 1} {
		s.Ingest(ctx, note(fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	got := s.List(feed.Filter{}, 0)
	if len(got) != 4 {
		t.Fatalf("got %d items", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("not sorted newest first: %v", got)
		}
	}
	if got[0].ID != "n3" || got[3].ID != "n0" {
		t.Errorf("order = %q ... %q", got[0].ID, got[3].ID)
	}

	if got := s.List(feed.Filter{}, 2); len(got) != 2 {
		t.Errorf("limit 2 returned %d", len(got))
	}
}

func TestListDefaultLimit(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < defaultListLimit+20; i++ {
		s.Ingest(ctx, note(fmt.Sprintf("d%03d", i), base.Add(time.Duration(i)*time.Second)))
	}
	if got := s.List(feed.Filter{}, 0); len(got) != defaultListLimit {
		t.Fatalf("default limit returned %d, want %d", len(got), defaultListLimit)
	}
}

func TestListReturnsCopies(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	n := note("meta-1", time.Now())
	n.Metadata = map[string]string{"channel": "C1"}
	s.Ingest(context.Background(), n)

	first := s.List(feed.Filter{}, 0)
	first[0].Metadata["channel"] = "tampered"
	first[0].Read = true

	second := s.List(feed.Filter{}, 0)
	if second[0].Metadata["channel"] != "C1" {
		t.Error("caller mutation reached the cache metadata")
	}
	if second[0].Read {
		t.Error("caller mutation reached the cache read flag")
	}
}

func TestMarkReadAndFilter(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	s.Ingest(ctx, note("r1", time.Now()))
	s.Ingest(ctx, note("r2", time.Now().Add(time.Second)))

	if !s.MarkRead(ctx, "r1") {
		t.Fatal("MarkRead existing id failed")
	}
	if s.MarkRead(ctx, "missing") {
		t.Fatal("MarkRead invented an item")
	}
	// Marking twice still reports found.
	if !s.MarkRead(ctx, "r1") {
		t.Fatal("MarkRead is not idempotent")
	}

	unread := s.List(feed.Filter{UnreadOnly: true}, 0)
	if len(unread) != 1 || unread[0].ID != "r2" {
		t.Fatalf("unread list = %+v, want just r2", unread)
	}
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()

	store := memStore(t)
	s := newTestService(t, store)
	ctx := context.Background()
	s.Ingest(ctx, note("a1", time.Now()))
	s.Ingest(ctx, note("a2", time.Now().Add(time.Second)))
	gh := note("g1", time.Now().Add(2*time.Second))
	gh.Source = feed.SourceGitHub
	s.Ingest(ctx, gh)

	if got := s.MarkAllRead(ctx, feed.SourceGitHub); got != 1 {
		t.Fatalf("scoped MarkAllRead = %d, want 1", got)
	}
	if got := s.MarkAllRead(ctx, ""); got != 2 {
		t.Fatalf("global MarkAllRead = %d, want 2", got)
	}
	// Nothing left unread: no count and no rewrite.
	data1, _, _ := store.Load(ctx, storage.DocNotifications)
	if got := s.MarkAllRead(ctx, ""); got != 0 {
		t.Fatalf("idle MarkAllRead = %d, want 0", got)
	}
	data2, _, _ := store.Load(ctx, storage.DocNotifications)
	if string(data1) != string(data2) {
		t.Error("idle MarkAllRead rewrote the document")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	store := memStore(t)
	ctx := context.Background()

	s1 := newTestService(t, store)
	n := note("persist-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s1.Ingest(ctx, n)
	s1.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})
	s1.Stop(ctx)

	// Documents are pretty-printed with the original field names.
	raw, ok, err := store.Load(ctx, storage.DocNotifications)
	if err != nil || !ok {
		t.Fatalf("cache document missing: ok=%v err=%v", ok, err)
	}
	if !json.Valid(raw) {
		t.Fatal("cache document is not valid JSON")
	}
	for _, want := range []string{"\n", `"notifications"`, `"id": "persist-1"`} {
		if !contains(raw, want) {
			t.Errorf("cache document missing %q", want)
		}
	}
	rawCfg, ok, err := store.Load(ctx, storage.DocConfig)
	if err != nil || !ok {
		t.Fatalf("config document missing: ok=%v err=%v", ok, err)
	}
	for _, want := range []string{`"pollIntervalSeconds"`, `"watchMentions"`, `"enabled": true`} {
		if !contains(rawCfg, want) {
			t.Errorf("config document missing %q", want)
		}
	}

	s2 := newTestService(t, store)
	got := s2.List(feed.Filter{}, 0)
	if len(got) != 1 || got[0].ID != "persist-1" {
		t.Fatalf("reloaded cache = %+v", got)
	}
	if !s2.Config().Slack.Enabled {
		t.Error("reloaded config lost the slack enable")
	}
	// Seeded seen cache refuses the replayed item.
	if s2.Ingest(ctx, n) {
		t.Error("replayed item accepted after restart")
	}
}

func TestLoadToleratesCorruptDocuments(t *testing.T) {
	t.Parallel()

	store := memStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, storage.DocConfig, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, storage.DocNotifications, []byte("also not json")); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store)
	if got := s.Config(); !got.Enabled || got.Slack.PollIntervalSeconds != 60 {
		t.Errorf("corrupt config did not fall back to defaults: %+v", got)
	}
	if got := s.List(feed.Filter{}, 0); len(got) != 0 {
		t.Errorf("corrupt cache did not start empty: %+v", got)
	}
}

func TestStartWatchingHonorsMasterSwitch(t *testing.T) {
	t.Parallel()

	store := memStore(t)
	s := newTestService(t, store)
	ctx := context.Background()
	s.Start(ctx)

	w := &fakeWatcher{src: feed.SourceSlack}
	s.Register(w)
	s.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})

	// Globally disabled: nothing may start.
	s.UpdateConfig(ctx, feed.ConfigPatch{Enabled: boolPtr(false)})
	if started, ok := s.StartWatching(); ok || len(started) != 0 {
		t.Fatalf("StartWatching while disabled = (%v, %v)", started, ok)
	}
	if w.Active() {
		t.Fatal("watcher started while globally disabled")
	}

	s.UpdateConfig(ctx, feed.ConfigPatch{Enabled: boolPtr(true)})
	started, ok := s.StartWatching()
	if !ok || len(started) != 1 || started[0] != feed.SourceSlack {
		t.Fatalf("StartWatching = (%v, %v)", started, ok)
	}
	if !w.Active() {
		t.Fatal("watcher not active after StartWatching")
	}

	// Second call is a no-op for already-active watchers.
	started, ok = s.StartWatching()
	if !ok || len(started) != 0 {
		t.Fatalf("repeat StartWatching = (%v, %v)", started, ok)
	}

	stopped := s.StopWatching()
	if len(stopped) != 1 || w.Active() {
		t.Fatalf("StopWatching = %v, active=%v", stopped, w.Active())
	}
}

func TestStartWatchingSkipsDisabledSections(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	s.Start(context.Background())
	slackW := &fakeWatcher{src: feed.SourceSlack}
	ghW := &fakeWatcher{src: feed.SourceGitHub}
	s.Register(slackW)
	s.Register(ghW)
	s.UpdateConfig(context.Background(), feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})

	started, ok := s.StartWatching()
	if !ok || len(started) != 1 || started[0] != feed.SourceSlack {
		t.Fatalf("StartWatching = (%v, %v)", started, ok)
	}
	if ghW.Active() {
		t.Error("disabled section's watcher started")
	}
}

func TestUpdateConfigReconcilesWhileWatching(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	s.Start(ctx)
	w := &fakeWatcher{src: feed.SourceSlack}
	s.Register(w)

	if _, ok := s.StartWatching(); !ok {
		t.Fatal("StartWatching failed")
	}
	if w.Active() {
		t.Fatal("disabled watcher active")
	}

	// Enabling the section while watching starts it.
	s.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})
	if !w.Active() {
		t.Fatal("watcher not started on section enable")
	}

	// Disabling it stops it; the github section stays untouched.
	before := s.Config().GitHub
	s.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(false)}})
	if w.Active() {
		t.Fatal("watcher not stopped on section disable")
	}
	after := s.Config().GitHub
	if after.Enabled != before.Enabled || after.PollIntervalSeconds != before.PollIntervalSeconds {
		t.Errorf("github section changed: %+v -> %+v", before, after)
	}

	// Master off stops the group.
	s.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})
	if !w.Active() {
		t.Fatal("watcher not restarted")
	}
	s.UpdateConfig(ctx, feed.ConfigPatch{Enabled: boolPtr(false)})
	if w.Active() {
		t.Fatal("watcher survived master disable")
	}
}

func TestRegisterLastWins(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	s.Start(ctx)
	s.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})

	first := &fakeWatcher{src: feed.SourceSlack}
	s.Register(first)
	if _, ok := s.StartWatching(); !ok {
		t.Fatal("StartWatching failed")
	}
	if !first.Active() {
		t.Fatal("first watcher not active")
	}

	second := &fakeWatcher{src: feed.SourceSlack}
	s.Register(second)
	if first.Active() {
		t.Error("replaced watcher still active")
	}
	if !second.Active() {
		t.Error("replacement watcher not started")
	}
	if len(second.applied) == 0 {
		t.Error("replacement watcher never received the config")
	}

	st := s.Status()
	if len(st.Sources) != 1 {
		t.Fatalf("status lists %d sources, want 1", len(st.Sources))
	}
}

func TestStatusReportsPerSource(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	s.Start(context.Background())
	pollAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	w := &fakeWatcher{src: feed.SourceSlack, lastPoll: pollAt, lastErr: errors.New("boom")}
	s.Register(w)

	st := s.Status()
	if st.Watching {
		t.Error("watching before StartWatching")
	}
	if len(st.Sources) != 1 {
		t.Fatalf("sources = %+v", st.Sources)
	}
	ss := st.Sources[0]
	if ss.Source != feed.SourceSlack || ss.Active || !ss.LastPoll.Equal(pollAt) || ss.LastError != "boom" {
		t.Errorf("source status = %+v", ss)
	}
	if len(st.ActiveSources) != 0 {
		t.Errorf("active sources = %v", st.ActiveSources)
	}

	s.UpdateConfig(context.Background(), feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})
	s.StartWatching()
	st = s.Status()
	if !st.Watching || len(st.ActiveSources) != 1 || st.ActiveSources[0] != feed.SourceSlack {
		t.Errorf("status after start = %+v", st)
	}
}

func TestIngestEmitsBusEvent(t *testing.T) {
	t.Parallel()

	store := memStore(t)
	bus := eventbus.New()
	s := New(context.Background(), Deps{Store: store, Bus: bus, Log: logx.Nop()})
	t.Cleanup(func() { s.Stop(context.Background()) })

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	n := note("ev-1", time.Now())
	s.Ingest(context.Background(), n)

	select {
	case ev := <-ch:
		if ev.Type != feed.EventNotification {
			t.Fatalf("event type = %q", ev.Type)
		}
		got, ok := ev.Data.(feed.Notification)
		if !ok || got.ID != "ev-1" {
			t.Fatalf("event data = %#v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event on the bus")
	}
}

func TestSweepSeenEvictsByTTL(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	s.Ingest(ctx, note("old-1", time.Now()))
	s.Ingest(ctx, note("new-1", time.Now()))

	s.mu.Lock()
	s.seen["old-1"] = time.Now().Add(-25 * time.Hour)
	s.mu.Unlock()

	if got := s.sweepSeen(time.Now()); got != 1 {
		t.Fatalf("sweep evicted %d, want 1", got)
	}
	// The evicted ID may be accepted again; the fresh one may not.
	if !s.Ingest(ctx, note("old-1", time.Now())) {
		t.Error("swept id still deduplicated")
	}
	if s.Ingest(ctx, note("new-1", time.Now())) {
		t.Error("fresh id lost dedup protection")
	}
}

func TestStopIsIdempotentAndStopsWatchers(t *testing.T) {
	t.Parallel()

	s := newTestService(t, memStore(t))
	ctx := context.Background()
	s.Start(ctx)
	w := &fakeWatcher{src: feed.SourceSlack}
	s.Register(w)
	s.UpdateConfig(ctx, feed.ConfigPatch{Slack: &feed.SlackPatch{Enabled: boolPtr(true)}})
	s.StartWatching()

	s.Stop(ctx)
	if w.Active() {
		t.Fatal("watcher survived Stop")
	}
	if s.Ingest(ctx, note("late", time.Now())) {
		t.Error("ingest accepted after Stop")
	}
	s.Stop(ctx) // second call is a no-op

	if _, stops := w.counts(); stops != 1 {
		t.Errorf("watcher stopped %d times, want 1", stops)
	}
}

func boolPtr(b bool) *bool { return &b }

func contains(data []byte, sub string) bool {
	return strings.Contains(string(data), sub)
}
