// Package memstore is an in-process ports.Store used by tests and by
// STORAGE_PROVIDER=memory for local dry runs.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"dopple/internal/pkg/errors"
)

type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// Writes counts successful Set calls.
	Writes int
	// ListErr, when set, is returned by List.
	ListErr error
}

func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Provider() string { return "memory" }

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var keys []string
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, errors.NotFound("blob", key)
	}
	return append([]byte(nil), b...), nil
}

func (s *Store) Set(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	s.Writes++
	return nil
}

// Put seeds a blob without counting it as a write.
func (s *Store) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
}

// WriteCount returns Writes under the lock.
func (s *Store) WriteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Writes
}
