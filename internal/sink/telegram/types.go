package telegram

import "time"

// Config controls the forwarding sink. Disabled by default; the sink is an
// optional consumer and the engine is complete without it.
type Config struct {
	Enabled       bool
	Token         string
	ChatID        int64
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// ForwardEvent is emitted on the event bus for sink lifecycle events.
type ForwardEvent struct {
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
