package storage

import (
	"context"
	"sync"
)

// memStore holds documents for the process lifetime only. Used when storage
// is not configured, and by tests.
type memStore struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

func newMemory() Store {
	return &memStore{docs: map[string][]byte{}}
}

func (s *memStore) Load(ctx context.Context, doc string) ([]byte, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	data, ok := s.docs[doc]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

func (s *memStore) Save(ctx context.Context, doc string, data []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.docs[doc] = cp
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
