package slackwatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"hubbub/internal/feed"
	"hubbub/internal/slack"
	logx "hubbub/pkg/logx"
)

const bodyLimit = 300

var mentionRe = regexp.MustCompile(`<@[UW][A-Z0-9]+>`)

// fetch runs one poll cycle. Credential or listing failures fail the whole
// cycle; a single channel's history failure is logged and skipped so the
// remaining channels still deliver. The cursor only advances past messages
// that were actually retained.
func (w *Watcher) fetch(ctx context.Context) ([]feed.Notification, error) {
	cfg, cursor := w.snapshot()

	token, err := w.deps.Creds.AccessToken(ctx, "slack")
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	channels, err := w.selectChannels(ctx, token, cfg)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	base := w.workspaceBase(ctx, token)

	var (
		out   []feed.Notification
		maxTS = cursor
	)
	for _, ch := range channels {
		msgs, err := w.deps.Client.History(ctx, token, ch.ID, cursor, historyLimit)
		if err != nil {
			w.log.Warn("channel history failed",
				logx.String("channel", ch.ID),
				logx.Err(err))
			continue
		}
		for _, m := range msgs {
			if m.TS == "" || m.Subtype != "" {
				continue
			}
			if compareTS(m.TS, cursor) <= 0 {
				continue
			}
			n, keep := w.build(ch, m, cfg, base)
			if !keep {
				continue
			}
			out = append(out, n)
			if compareTS(m.TS, maxTS) > 0 {
				maxTS = m.TS
			}
		}
	}

	w.mu.Lock()
	w.cursor = maxTS
	w.mu.Unlock()
	return out, nil
}

// selectChannels resolves the channel set for this cycle. An explicit
// allow-list is polled exactly as given, matching listed conversations by ID
// or name for metadata; entries with no match are still polled by ID so a
// misconfigured name surfaces as a per-channel error rather than silence.
// Without an allow-list we take every unarchived conversation the
// authenticated user is part of, DMs included.
func (w *Watcher) selectChannels(ctx context.Context, token string, cfg feed.SlackConfig) ([]slack.Channel, error) {
	list, err := w.deps.Client.ListChannels(ctx, token)
	if err != nil {
		return nil, err
	}

	if len(cfg.Channels) > 0 {
		byKey := make(map[string]slack.Channel, len(list)*2)
		for _, ch := range list {
			byKey[strings.ToLower(ch.ID)] = ch
			if ch.Name != "" {
				byKey[strings.ToLower(ch.Name)] = ch
			}
		}
		out := make([]slack.Channel, 0, len(cfg.Channels))
		for _, want := range cfg.Channels {
			key := strings.ToLower(strings.TrimSpace(want))
			if key == "" {
				continue
			}
			if ch, ok := byKey[key]; ok {
				out = append(out, ch)
				continue
			}
			out = append(out, slack.Channel{ID: strings.TrimSpace(want)})
		}
		return out, nil
	}

	var out []slack.Channel
	for _, ch := range list {
		if ch.IsArchived {
			continue
		}
		if ch.IsMember || ch.IsIM {
			out = append(out, ch)
		}
	}
	return out, nil
}

// build classifies a message and assembles the notification. Order matters:
// a DM wins over everything (and an unwatched DM is suppressed outright), a
// watched mention wins over a thread reply, and plain channel traffic is the
// unconditional fallback. The keyword filter applies after classification.
func (w *Watcher) build(ch slack.Channel, m slack.Message, cfg feed.SlackConfig, base string) (feed.Notification, bool) {
	var typ feed.Type
	switch {
	case ch.IsIM:
		if !cfg.WatchDMs {
			return feed.Notification{}, false
		}
		typ = feed.TypeDM
	case cfg.WatchMentions && mentionRe.MatchString(m.Text):
		typ = feed.TypeMention
	case cfg.WatchThreads && m.ThreadTS != "" && m.ThreadTS != m.TS:
		typ = feed.TypeThreadReply
	default:
		typ = feed.TypeChannel
	}

	if !matchesKeywords(m.Text, cfg.Keywords) {
		return feed.Notification{}, false
	}

	meta := map[string]string{
		"channel": ch.ID,
		"ts":      m.TS,
	}
	if ch.Name != "" {
		meta["channelName"] = ch.Name
	}
	if m.User != "" {
		meta["user"] = m.User
	}
	if m.ThreadTS != "" {
		meta["threadTs"] = m.ThreadTS
	}

	return feed.Notification{
		ID:        fmt.Sprintf("slack:%s:%s", ch.ID, m.TS),
		Source:    feed.SourceSlack,
		Type:      typ,
		Title:     title(typ, ch),
		Body:      truncate(m.Text, bodyLimit),
		URL:       permalink(base, ch.ID, m.TS),
		Timestamp: parseTS(m.TS),
		Metadata:  meta,
	}, true
}

func matchesKeywords(text string, keywords []string) bool {
	matched := false
	tested := false
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		tested = true
		if strings.Contains(lower, kw) {
			matched = true
			break
		}
	}
	return !tested || matched
}

func title(typ feed.Type, ch slack.Channel) string {
	name := ch.Name
	if name == "" {
		name = ch.ID
	}
	switch typ {
	case feed.TypeDM:
		if ch.User != "" {
			return "Direct message from " + ch.User
		}
		return "Direct message"
	case feed.TypeMention:
		return "Mention in #" + name
	case feed.TypeThreadReply:
		return "Thread reply in #" + name
	default:
		return "#" + name
	}
}

// workspaceBase resolves the workspace URL once per process, best effort. A
// failure just means notifications carry no deep link until a later cycle
// resolves it.
func (w *Watcher) workspaceBase(ctx context.Context, token string) string {
	w.mu.Lock()
	if w.urlResolved {
		base := w.workspaceURL
		w.mu.Unlock()
		return base
	}
	w.mu.Unlock()

	info, err := w.deps.Client.AuthTest(ctx, token)
	if err != nil {
		w.log.Debug("auth.test failed, links disabled for this cycle", logx.Err(err))
		return ""
	}

	w.mu.Lock()
	w.workspaceURL = strings.TrimSuffix(info.URL, "/")
	w.urlResolved = true
	base := w.workspaceURL
	w.mu.Unlock()
	return base
}

func permalink(base, channelID, ts string) string {
	if base == "" {
		return ""
	}
	return base + "/archives/" + channelID + "/p" + strings.Replace(ts, ".", "", 1)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	// do not split a multibyte rune
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

// compareTS orders Slack timestamps ("1726000000.123456") numerically
// without float rounding: seconds as integers, fractions right-padded and
// compared digit-wise. Empty sorts first; unparseable input falls back to
// string order.
func compareTS(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	as, af, aok := splitTS(a)
	bs, bf, bok := splitTS(b)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	if as != bs {
		if as < bs {
			return -1
		}
		return 1
	}
	for len(af) < len(bf) {
		af += "0"
	}
	for len(bf) < len(af) {
		bf += "0"
	}
	return strings.Compare(af, bf)
}

func splitTS(ts string) (sec int64, frac string, ok bool) {
	head, tail, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, "", false
	}
	for _, r := range tail {
		if r < '0' || r > '9' {
			return 0, "", false
		}
	}
	return sec, tail, true
}

func parseTS(ts string) time.Time {
	sec, frac, ok := splitTS(ts)
	if !ok {
		return time.Time{}
	}
	for len(frac) < 9 {
		frac += "0"
	}
	nanos, err := strconv.ParseInt(frac[:9], 10, 64)
	if err != nil {
		return time.Unix(sec, 0).UTC()
	}
	return time.Unix(sec, nanos).UTC()
}
