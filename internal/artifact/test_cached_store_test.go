package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeOriginStore struct {
	mu sync.Mutex

	data map[string][]byte

	getCalls int
	putCalls int

	failPut bool
	failGet []error
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{data: map[string][]byte{}}
}

func (s *fakeOriginStore) Put(_ context.Context, key string, content []byte, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.failPut {
		return fmt.Errorf("put failed")
	}
	if _, ok := s.data[key]; ok && !overwrite {
		return ErrConflict
	}
	s.data[key] = append([]byte(nil), content...)
	return nil
}

func (s *fakeOriginStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if len(s.failGet) > 0 {
		err := s.failGet[0]
		s.failGet = s.failGet[1:]
		return nil, err
	}
	raw, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *fakeOriginStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *fakeOriginStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func TestCachedStoreReadThroughAndMetrics(t *testing.T) {
	origin := newFakeOriginStore()
	origin.data["/r1/a.tif"] = []byte("hello")
	store := NewCachedStore(origin, CacheConfig{TTL: time.Minute, MaxEntries: 8, MaxBytes: 1024})

	got1, err := store.Get(context.Background(), "/r1/a.tif")
	if err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	got2, err := store.Get(context.Background(), "r1/a.tif")
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if string(got1) != "hello" || string(got2) != "hello" {
		t.Fatalf("unexpected content: %q %q", got1, got2)
	}
	if origin.getCalls != 1 {
		t.Fatalf("expected one origin get call, got %d", origin.getCalls)
	}
	m := store.Metrics()
	if m.Hits != 1 || m.Misses != 1 || m.OriginReads != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCachedStoreWriteThrough(t *testing.T) {
	origin := newFakeOriginStore()
	store := NewCachedStore(origin, DefaultCacheConfig())

	if err := store.Put(context.Background(), "/r1/a.tif", []byte("new"), true); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := store.Get(context.Background(), "/r1/a.tif")
	if err != nil {
		t.Fatalf("get after put failed: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("unexpected content: %q", got)
	}
	if origin.getCalls != 0 {
		t.Fatalf("expected cache hit after write, got %d origin reads", origin.getCalls)
	}

	origin.failPut = true
	if err := store.Put(context.Background(), "/r1/b.tif", []byte("bad"), true); err == nil {
		t.Fatalf("expected put error")
	}
	if _, err := store.Get(context.Background(), "/r1/b.tif"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for failed write, got %v", err)
	}
	if m := store.Metrics(); m.OriginWriteErr != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCachedStoreEvictsBySize(t *testing.T) {
	origin := newFakeOriginStore()
	origin.data["/r1/a.tif"] = []byte("AAAA")
	origin.data["/r1/b.tif"] = []byte("BBBB")
	store := NewCachedStore(origin, CacheConfig{TTL: time.Minute, MaxEntries: 8, MaxBytes: 6})

	for _, key := range []string{"/r1/a.tif", "/r1/b.tif", "/r1/a.tif"} {
		if _, err := store.Get(context.Background(), key); err != nil {
			t.Fatalf("get %s failed: %v", key, err)
		}
	}
	if origin.getCalls != 3 {
		t.Fatalf("expected a.tif to be evicted by size, got %d origin reads", origin.getCalls)
	}
}

func TestCachedStoreOverwriteRefreshesEntry(t *testing.T) {
	origin := newFakeOriginStore()
	store := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()
	if err := store.Put(ctx, "/r1/a.tif", []byte("v1"), true); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	if err := store.Put(ctx, "/r1/a.tif", []byte("v2"), true); err != nil {
		t.Fatalf("put v2: %v", err)
	}
	got, err := store.Get(ctx, "/r1/a.tif")
	if err != nil || string(got) != "v2" {
		t.Fatalf("expected v2, got %q err=%v", got, err)
	}
}
