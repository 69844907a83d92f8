package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Document names used by the engine.
const (
	DocConfig        = "watchers"
	DocNotifications = "notifications"
)

// Config configures storage.
//
// Driver values:
//   - "file": one pretty-printed JSON file per document under Path (a directory)
//   - "sqlite": SQLite database file at Path (optional build tag)
//   - "memory": process-lifetime only; also the fallback when Driver is empty
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
