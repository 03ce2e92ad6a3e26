package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, content []byte, overwrite bool) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	norm, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[norm]; ok && !overwrite {
		return fmt.Errorf("put %s: %w", norm, ErrConflict)
	}
	s.data[norm] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	norm, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[norm]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", norm, ErrNotFound)
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("store is nil")
	}
	norm, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[norm]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	norm, err := normalizeKey(prefix)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 16)
	for key := range s.data {
		if key == norm || strings.HasPrefix(key, norm+"/") {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}
