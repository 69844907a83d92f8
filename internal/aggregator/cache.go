package aggregator

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"hubbub/internal/feed"
	logx "hubbub/pkg/logx"
)

// Ingest is the sink watchers deliver into. A notification whose ID was
// already accepted is discarded silently; an empty ID gets a generated one
// before the dedup check. Accepted items are appended, the cache is trimmed
// oldest-first to its capacity, the document is persisted and a
// notification.new event goes out on the bus. Returns whether the item was
// accepted.
func (s *Service) Ingest(ctx context.Context, n feed.Notification) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if _, dup := s.seen[n.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[n.ID] = time.Now()
	s.items = append(s.items, n.Clone())
	if overflow := len(s.items) - cacheLimit; overflow > 0 {
		s.items = append(s.items[:0], s.items[overflow:]...)
	}
	s.persistItemsLocked(ctx)
	s.mu.Unlock()

	s.publish(feed.EventNotification, n.Clone())
	s.log.Debug("notification accepted",
		logx.String("id", n.ID),
		logx.String("source", string(n.Source)),
		logx.String("type", string(n.Type)))
	return true
}

// List returns copies of the cached notifications matching the filter,
// newest first. A zero filter matches everything; limit <= 0 applies the
// default of 100.
func (s *Service) List(f feed.Filter, limit int) []feed.Notification {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.Lock()
	matched := make([]feed.Notification, 0, len(s.items))
	for i := range s.items {
		if f.Matches(s.items[i]) {
			matched = append(matched, s.items[i])
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]feed.Notification, len(matched))
	for i := range matched {
		out[i] = matched[i].Clone()
	}
	return out
}

// MarkRead flags one notification as read. It reports whether the ID was
// found; marking an already-read item succeeds without a write.
func (s *Service) MarkRead(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID != id {
			continue
		}
		if !s.items[i].Read {
			s.items[i].Read = true
			s.persistItemsLocked(ctx)
		}
		return true
	}
	return false
}

// MarkAllRead flags every unread notification, optionally scoped to one
// source, and returns how many it flagged. The document is only rewritten
// when something changed.
func (s *Service) MarkAllRead(ctx context.Context, source feed.Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.items {
		if s.items[i].Read {
			continue
		}
		if source != "" && s.items[i].Source != source {
			continue
		}
		s.items[i].Read = true
		count++
	}
	if count > 0 {
		s.persistItemsLocked(ctx)
	}
	return count
}

// sweepSeen drops dedup entries older than the TTL and reports how many. The
// notification cache itself is not touched; it is bounded by count, not age.
func (s *Service) sweepSeen(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, at := range s.seen {
		if now.Sub(at) > seenTTL {
			delete(s.seen, id)
			evicted++
		}
	}
	return evicted
}
