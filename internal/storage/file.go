package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "hubbub/pkg/logx"
)

// fileStore keeps each document at <dir>/<name>.json and replaces it
// atomically (tmp + rename) on every save. Documents are small (two files,
// the larger one capped by the notification cache capacity), so whole-file
// rewrites are fine.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Load(ctx context.Context, doc string) ([]byte, bool, error) {
	_ = ctx
	path, err := s.docPath(doc)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *fileStore) Save(ctx context.Context, doc string, data []byte) error {
	_ = ctx
	path, err := s.docPath(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) docPath(doc string) (string, error) {
	doc = strings.TrimSpace(doc)
	if doc == "" || doc != filepath.Base(doc) || strings.ContainsAny(doc, `/\`) {
		return "", errors.New("invalid document name: " + doc)
	}
	return filepath.Join(s.dir, doc+".json"), nil
}
