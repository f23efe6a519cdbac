package cache

import (
	"bytes"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		ImageCacheSizeMB: 8,
		ImageTTL:         time.Minute,
		QueryCacheSize:   4,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestImageRoundTrip(t *testing.T) {
	m := newTestManager(t)
	key := ImageKey("Target", "b1")

	if _, ok := m.GetImage(key); ok {
		t.Fatalf("expected miss on empty cache")
	}

	want := Image{ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0x00, 0x01}}
	if err := m.SetImage(key, want); err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	got, ok := m.GetImage(key)
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.ContentType != want.ContentType || !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestDecodeImageCorrupt(t *testing.T) {
	for _, raw := range [][]byte{nil, {0x00}, {0x00, 0x09, 'i'}} {
		if _, err := decodeImage(raw); err == nil {
			t.Fatalf("expected error for %v", raw)
		}
	}
	img, err := decodeImage(encodeImage(Image{}))
	if err != nil || img.ContentType != "" || len(img.Data) != 0 {
		t.Fatalf("expected empty image, got %+v %v", img, err)
	}
}

func TestImageKey(t *testing.T) {
	if ImageKey("Target", "b1") != ImageKey("target", "b1") {
		t.Fatalf("expected store to be case-insensitive")
	}
	if ImageKey("target", "b1") == ImageKey("target", "B1") {
		t.Fatalf("expected product id to stay case-sensitive")
	}
}

func TestProductsKey(t *testing.T) {
	base := ProductsKey("store=target", 10, 1)
	if base != ProductsKey("store=target", 10, 1) {
		t.Fatalf("expected stable key")
	}
	for _, other := range []string{
		ProductsKey("store=aldi", 10, 1),
		ProductsKey("store=target", 11, 1),
		ProductsKey("store=target", 10, 2),
	} {
		if other == base {
			t.Fatalf("expected %q to differ from %q", other, base)
		}
	}
}

func TestQueryCacheEvicts(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		m.SetQuery(ProductsKey("f", i, 0), []byte{byte(i)})
	}
	if _, ok := m.GetQuery(ProductsKey("f", 0, 0)); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if v, ok := m.GetQuery(ProductsKey("f", 4, 0)); !ok || v[0] != 4 {
		t.Fatalf("expected newest entry present")
	}
	st := m.Stats()
	if st["query_cache_len"] != 4 || st["image_cache_len"] != 0 {
		t.Fatalf("unexpected stats %v", st)
	}
}
