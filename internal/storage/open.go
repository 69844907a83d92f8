package storage

import (
	"context"
	"errors"
	"strings"

	logx "hubbub/pkg/logx"
)

// Store is the minimal persistence API used by the aggregator.
//
// Load returns ok=false (and no error) when the document has never been
// written; documents are created lazily on first Save.
type Store interface {
	Load(ctx context.Context, doc string) (data []byte, ok bool, err error)
	Save(ctx context.Context, doc string, data []byte) error
	Close() error
}

// Open initializes the configured store. An empty or "none" driver yields an
// in-memory store so the engine runs without durability rather than failing.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		return newMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
