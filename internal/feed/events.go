package feed

// Event types published on the process event bus. Watch events carry a
// WatchEvent payload; EventNotification carries the full Notification.
const (
	EventWatchStarted = "watch.started"
	EventWatchStopped = "watch.stopped"
	EventWatchPolling = "watch.polling"
	EventWatchError   = "watch.error"
	EventNotification = "notification.new"
)

// WatchEvent is the payload for watch.* status events.
type WatchEvent struct {
	Source Source `json:"source"`
	Err    string `json:"err,omitempty"`
}
