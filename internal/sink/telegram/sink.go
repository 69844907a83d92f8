// Package telegram forwards accepted notifications to a Telegram chat. It
// subscribes to the event bus and runs an async pipeline: bounded queue,
// single worker, rate limit, retry. When the queue is full it drops and
// counts rather than blocking the bus.
package telegram

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"hubbub/internal/eventbus"
	"hubbub/internal/feed"
	rtsup "hubbub/internal/runtime/supervisor"
	logx "hubbub/pkg/logx"
)

const (
	EventSent    = "sink.sent"
	EventFailed  = "sink.failed"
	EventDropped = "sink.dropped"
)

// Sender delivers one formatted message. The production implementation is
// backed by telebot; tests script it.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Deps struct {
	Bus eventbus.Bus
	Log logx.Logger
	// Sender overrides the telebot-backed default. Leave nil in production.
	Sender Sender
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	sender  Sender

	running bool
	unsub   func()
	sup     *rtsup.Supervisor
	drained chan struct{}

	dropped uint64
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "sink.telegram")),
		bus:    deps.Bus,
		sender: deps.Sender,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps config live. Queue size takes effect on the next Start; rate
// and retry settings apply to the next send.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	rebuildSender := s.sender == nil || cfg.Token != s.cfg.Token
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	if cfg.Enabled && rebuildSender && strings.TrimSpace(cfg.Token) != "" {
		sender, err := newTelebotSender(cfg.Token)
		if err != nil {
			s.log.Error("telegram bot init failed", logx.Err(err))
		} else {
			s.sender = sender
		}
	}
}

// Start begins consuming notification.new events. Idempotent; a disabled or
// sender-less sink stays inert.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.running || !s.cfg.Enabled || s.bus == nil {
		s.mu.Unlock()
		return
	}
	if s.sender == nil {
		s.mu.Unlock()
		s.log.Warn("sink enabled but no sender configured")
		return
	}
	s.running = true
	queueSize := s.cfg.QueueSize
	sender := s.sender

	queue := make(chan feed.Notification, queueSize)
	ch, unsub := s.bus.Subscribe(queueSize)
	s.unsub = unsub
	s.drained = make(chan struct{})
	drained := s.drained
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("intake", func(c context.Context) {
		defer close(queue)
		s.intake(c, ch, queue)
	})
	sup.Go0("worker", func(c context.Context) {
		defer close(drained)
		s.worker(c, queue, sender)
	})
	sup.Go0("drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&s.dropped, 0); n > 0 {
					s.log.Warn("notifications dropped (queue full)", logx.Uint64("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&s.dropped, 0); n > 0 {
					s.log.Warn("notifications dropped (queue full)", logx.Uint64("count", n))
				}
			}
		}
	})
	s.log.Info("forwarding started", logx.Int64("chat", s.chatID()))
}

// Stop unsubscribes, drains the queue best-effort until the ctx deadline and
// then force-cancels the internal loops.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unsub := s.unsub
	sup := s.sup
	drained := s.drained
	s.unsub = nil
	s.sup = nil
	s.drained = nil
	s.mu.Unlock()

	// Closing the subscription ends intake, which closes the queue, which
	// lets the worker drain what is left.
	if unsub != nil {
		unsub()
	}
	if drained != nil {
		select {
		case <-drained:
		case <-ctx.Done():
		}
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
	s.log.Info("forwarding stopped")
}

func (s *Service) intake(ctx context.Context, ch <-chan eventbus.Event, queue chan<- feed.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != feed.EventNotification {
				continue
			}
			n, ok := ev.Data.(feed.Notification)
			if !ok {
				continue
			}
			select {
			case queue <- n:
			default:
				atomic.AddUint64(&s.dropped, 1)
				s.publish(EventDropped, ForwardEvent{ID: n.ID, At: time.Now(), Error: "queue full"})
			}
		}
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan feed.Notification, sender Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-queue:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, sender, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, sender Sender, n feed.Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	text := FormatNotification(n)
	if text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sender.Send(callCtx, cfg.ChatID, text)
		cancel()
		if err == nil {
			s.publish(EventSent, ForwardEvent{ID: n.ID, At: time.Now()})
			return
		}
		lastErr = err
		s.log.Debug("forward failed",
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.publish(EventFailed, ForwardEvent{ID: n.ID, At: time.Now(), Error: lastErr.Error()})
	}
}

func (s *Service) publish(typ string, data ForwardEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (s *Service) chatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ChatID
}

// FormatNotification renders the forwarded text: a source tag, the title,
// then body and link when present.
func FormatNotification(n feed.Notification) string {
	var b strings.Builder
	if n.Source != "" {
		b.WriteString("[")
		b.WriteString(string(n.Source))
		b.WriteString("] ")
	}
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}
	if n.URL != "" {
		b.WriteString("\n")
		b.WriteString(n.URL)
	}
	return strings.TrimSpace(b.String())
}

func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}

var errNoToken = errors.New("telegram token is empty")
