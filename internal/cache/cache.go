// Package cache provides caching for proxied images and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ImageCacheSizeMB int
	ImageTTL         time.Duration
	QueryCacheSize   int
}

// Manager manages image and query caches.
type Manager struct {
	imageCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// Image is a cached upstream image.
type Image struct {
	ContentType string
	Data        []byte
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = time.Hour
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	imageCacheConfig := bigcache.Config{
		Shards:             64, // keeps per-shard capacity above one image
		LifeWindow:         cfg.ImageTTL,
		CleanWindow:        cfg.ImageTTL / 2,
		MaxEntriesInWindow: 50000,
		MaxEntrySize:       256 * 1024, // product thumbnails
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

	return &Manager{
		imageCache: imageCache,
		queryCache: queryCache,
	}, nil
}

// GetImage retrieves an image from cache.
func (m *Manager) GetImage(key string) (Image, bool) {
	raw, err := m.imageCache.Get(key)
	if err != nil {
		return Image{}, false
	}
	img, err := decodeImage(raw)
	if err != nil {
		return Image{}, false
	}
	return img, true
}

// SetImage stores an image in cache.
func (m *Manager) SetImage(key string, img Image) error {
	return m.imageCache.Set(key, encodeImage(img))
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// ImageKey generates a cache key for a product image.
func ImageKey(store, productID string) string {
	return fmt.Sprintf("img:%s/%s", strings.ToLower(store), productID)
}

// ProductsKey generates a cache key for a product query.
func ProductsKey(filterKey string, count int, seed int64) string {
	h := sha256.Sum256([]byte(filterKey))
	return fmt.Sprintf("products:%d:%d:%s", count, seed, hex.EncodeToString(h[:])[:16])
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	st := m.imageCache.Stats()
	return map[string]interface{}{
		"image_cache_len":    m.imageCache.Len(),
		"image_cache_cap":    m.imageCache.Capacity(),
		"image_cache_hits":   st.Hits,
		"image_cache_misses": st.Misses,
		"query_cache_len":    m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.imageCache.Close()
}

var errCorruptEntry = errors.New("cache: corrupt image entry")

// Entries are laid out as: uint16 content-type length, content type, body.
func encodeImage(img Image) []byte {
	ct := img.ContentType
	if len(ct) > 0xffff {
		ct = ct[:0xffff]
	}
	buf := make([]byte, 2+len(ct)+len(img.Data))
	binary.BigEndian.PutUint16(buf, uint16(len(ct)))
	copy(buf[2:], ct)
	copy(buf[2+len(ct):], img.Data)
	return buf
}

func decodeImage(raw []byte) (Image, error) {
	if len(raw) < 2 {
		return Image{}, errCorruptEntry
	}
	n := int(binary.BigEndian.Uint16(raw))
	if len(raw) < 2+n {
		return Image{}, errCorruptEntry
	}
	data := make([]byte, len(raw)-2-n)
	copy(data, raw[2+n:])
	return Image{ContentType: string(raw[2 : 2+n]), Data: data}, nil
}
