package aggregator

import (
	"context"
	"encoding/json"
	"time"

	"hubbub/internal/feed"
	"hubbub/internal/storage"
	logx "hubbub/pkg/logx"
)

// notificationsDoc is the persisted shape of the cache document.
type notificationsDoc struct {
	Notifications []feed.Notification `json:"notifications"`
}

// loadState reads both documents. Any failure degrades: a bad config
// document keeps the defaults, a bad cache document starts empty. Loaded
// notification IDs seed the seen cache so a restart inside the TTL window
// does not re-accept items the process already delivered.
func (s *Service) loadState(ctx context.Context) {
	if data, ok, err := s.store.Load(ctx, storage.DocConfig); err != nil {
		s.log.Warn("config document unavailable, using defaults", logx.Err(err))
	} else if ok {
		cfg, err := feed.DecodeConfig(data)
		if err != nil {
			s.log.Warn("config document corrupt, using defaults", logx.Err(err))
		} else {
			s.cfg = cfg
		}
	}

	data, ok, err := s.store.Load(ctx, storage.DocNotifications)
	if err != nil {
		s.log.Warn("notification cache unavailable, starting empty", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	var doc notificationsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("notification cache corrupt, starting empty", logx.Err(err))
		return
	}
	items := doc.Notifications
	if len(items) > cacheLimit {
		items = items[len(items)-cacheLimit:]
	}
	now := time.Now()
	for i := range items {
		if items[i].ID != "" {
			s.seen[items[i].ID] = now
		}
	}
	s.items = items
	s.log.Debug("state loaded", logx.Int("notifications", len(items)))
}

func (s *Service) persistConfigLocked(ctx context.Context) {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		s.log.Error("encode config document", logx.Err(err))
		return
	}
	if err := s.store.Save(ctx, storage.DocConfig, data); err != nil {
		s.log.Warn("persist config document", logx.Err(err))
	}
}

func (s *Service) persistItemsLocked(ctx context.Context) {
	items := s.items
	if items == nil {
		items = []feed.Notification{}
	}
	data, err := json.MarshalIndent(notificationsDoc{Notifications: items}, "", "  ")
	if err != nil {
		s.log.Error("encode notification cache", logx.Err(err))
		return
	}
	if err := s.store.Save(ctx, storage.DocNotifications, data); err != nil {
		s.log.Warn("persist notification cache", logx.Err(err))
	}
}
