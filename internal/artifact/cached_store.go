package artifact

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
	MaxBytes   int64
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        10 * time.Minute,
		MaxEntries: 64,
		MaxBytes:   512 * 1024 * 1024, // 512MiB, rasters are large
	}
}

type MetricsSnapshot struct {
	Hits           uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore is a read-through, write-through blob cache in front of an
// origin store. Stages read back rasters produced earlier in the same run,
// which then skip the origin round trip.
type CachedStore struct {
	origin   Store
	blobs    *expirable.LRU[string, []byte]
	maxBytes int64
	size     atomic.Int64
	metrics  Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxBytes < 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	s := &CachedStore{origin: origin, maxBytes: cfg.MaxBytes}
	s.blobs = expirable.NewLRU[string, []byte](cfg.MaxEntries, func(_ string, v []byte) {
		s.size.Add(-int64(len(v)))
	}, cfg.TTL)
	return s
}

func (s *CachedStore) Put(ctx context.Context, key string, content []byte, overwrite bool) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, key, content, overwrite); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.remember(key, content)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	norm, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	if raw, ok := s.blobs.Get(norm); ok {
		s.metrics.hits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.misses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Get(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.remember(key, raw)
	return raw, nil
}

func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	if norm, err := normalizeKey(key); err == nil && s.blobs.Contains(norm) {
		s.metrics.hits.Add(1)
		return true, nil
	}
	return s.origin.Exists(ctx, key)
}

func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.origin.List(ctx, prefix)
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

func (s *CachedStore) remember(key string, content []byte) {
	norm, err := normalizeKey(key)
	if err != nil {
		return
	}
	s.blobs.Remove(norm)
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return
	}
	copied := append([]byte(nil), content...)
	s.size.Add(int64(len(copied)))
	s.blobs.Add(norm, copied)
	for s.maxBytes > 0 && s.size.Load() > s.maxBytes {
		if _, _, ok := s.blobs.RemoveOldest(); !ok {
			return
		}
	}
}
