// Package cache provides caching for rendered ion images and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ColasDroin/lbae-sub000/internal/codec"
)

// Config contains cache configuration.
type Config struct {
	ImageCacheSizeMB int
	ImageTTL         time.Duration
	QueryCacheSize   int
	Codec            string
}

// Manager manages the image and query caches. Image blobs are compressed
// before they enter the byte cache; query results are small and stored
// as-is in the LRU.
type Manager struct {
	imageCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
	codec      codec.Codec

	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

// NewManager creates a new cache manager. A nil registerer keeps the
// metrics private to this manager.
func NewManager(cfg Config, registerer prometheus.Registerer) (*Manager, error) {
	imageCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ImageTTL,
		CleanWindow:        cfg.ImageTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       1024 * 1024, // one full-slice float32 image, compressed
		HardMaxCacheSize:   cfg.ImageCacheSizeMB,
		Verbose:            false,
	}

	imageCache, err := bigcache.New(context.Background(), imageCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, err
	}

	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Manager{
		imageCache: imageCache,
		queryCache: queryCache,
		codec:      c,
		hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mzindex_cache_hits_total",
				Help: "Number of hits for a cache lookup.",
			},
			[]string{"kind"},
		),
		misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mzindex_cache_misses_total",
				Help: "Number of misses for a cache lookup.",
			},
			[]string{"kind"},
		),
	}, nil
}

// GetImage retrieves an image blob from cache.
func (m *Manager) GetImage(key string) ([]byte, bool) {
	data, err := m.imageCache.Get(key)
	if err != nil {
		m.misses.WithLabelValues("image").Inc()
		return nil, false
	}
	out, err := m.codec.Decompress(data)
	if err != nil {
		// A corrupt entry is indistinguishable from a miss to the caller.
		m.misses.WithLabelValues("image").Inc()
		return nil, false
	}
	m.hits.WithLabelValues("image").Inc()
	return out, true
}

// SetImage stores an image blob in cache.
func (m *Manager) SetImage(key string, data []byte) error {
	packed, err := m.codec.Compress(data)
	if err != nil {
		return err
	}
	return m.imageCache.Set(key, packed)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	data, ok := m.queryCache.Get(key)
	if ok {
		m.hits.WithLabelValues("query").Inc()
	} else {
		m.misses.WithLabelValues("query").Inc()
	}
	return data, ok
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// ImageKey generates a cache key for a range-query image. Bounds are
// rounded to the m/z working resolution so float noise from query parsing
// does not split entries.
func ImageKey(slice int, lb, hb float64, normalize bool) string {
	n := 0
	if normalize {
		n = 1
	}
	return fmt.Sprintf("img:%d:%.4f-%.4f:n=%d", slice, lb, hb, n)
}

// SpectrumKey generates a cache key for an averaged-spectrum window.
func SpectrumKey(slice int, kind string, lb, hb float64) string {
	return fmt.Sprintf("spec:%d:%s:%.4f-%.4f", slice, kind, lb, hb)
}

// RegionKey generates a cache key for a region spectrum. Span order does
// not affect the key.
func RegionKey(slice int, spans []string, resolution float64) string {
	base := fmt.Sprintf("region:%d:res=%.6f", slice, resolution)
	if spans == nil {
		return base
	}
	if len(spans) == 0 {
		return base + ":none"
	}

	sorted := make([]string, len(spans))
	copy(sorted, spans)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(base))
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"image_cache_len": m.imageCache.Len(),
		"image_cache_cap": m.imageCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Reset drops every cached entry.
func (m *Manager) Reset() error {
	m.queryCache.Purge()
	return m.imageCache.Reset()
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.imageCache.Close()
}
