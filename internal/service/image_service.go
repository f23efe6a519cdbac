package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/foodgrid/server/internal/cache"
	"github.com/foodgrid/server/internal/httputil"
	"github.com/foodgrid/server/internal/render"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidID is returned for store or product ids outside [A-Za-z0-9_.-].
	ErrInvalidID = errors.New("invalid image id")
	// ErrNotFound is returned when upstream has no such image.
	ErrNotFound = errors.New("image not found")
	// ErrUpstream is returned when upstream could not serve the image.
	ErrUpstream = errors.New("upstream image fetch failed")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidID reports whether s is safe to interpolate into an upstream URL.
func ValidID(s string) bool {
	return len(s) <= 128 && idPattern.MatchString(s) && s != "." && s != ".."
}

// maxImageBytes bounds a single upstream body.
const maxImageBytes = 8 << 20

// ImageServiceConfig contains image proxy configuration.
type ImageServiceConfig struct {
	// DefaultTemplate is used for stores without an entry in StoreTemplates.
	DefaultTemplate string
	StoreTemplates  map[string]string
	Timeout         time.Duration
	Retries         int
	RetryDelay      time.Duration
	Cache           *cache.Manager
	Renderer        *render.Renderer
	HTTPClient      *http.Client
}

// ImageService proxies product photos from the store CDNs.
type ImageService struct {
	cfg      ImageServiceConfig
	client   *http.Client
	cache    *cache.Manager
	renderer *render.Renderer
	group    singleflight.Group
}

// NewImageService creates an image proxy.
func NewImageService(cfg ImageServiceConfig) *ImageService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	templates := make(map[string]string, len(cfg.StoreTemplates))
	for k, v := range cfg.StoreTemplates {
		templates[strings.ToLower(k)] = v
	}
	cfg.StoreTemplates = templates

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.NewRenderer(render.Config{})
	}
	return &ImageService{cfg: cfg, client: client, cache: cfg.Cache, renderer: renderer}
}

// UpstreamURL expands the template for store.
func (s *ImageService) UpstreamURL(store, productID string) string {
	tmpl, ok := s.cfg.StoreTemplates[strings.ToLower(store)]
	if !ok {
		tmpl = s.cfg.DefaultTemplate
	}
	return strings.NewReplacer("{store}", strings.ToLower(store), "{productId}", productID).Replace(tmpl)
}

// Get returns the image for a product, from cache or upstream. Concurrent
// misses for the same image share one upstream fetch.
func (s *ImageService) Get(ctx context.Context, store, productID string) (cache.Image, error) {
	if !ValidID(store) || !ValidID(productID) {
		return cache.Image{}, ErrInvalidID
	}
	key := cache.ImageKey(store, productID)
	if s.cache != nil {
		if img, ok := s.cache.GetImage(key); ok {
			return img, nil
		}
	}

	// The shared fetch must outlive any single caller.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		img, err := s.fetch(fetchCtx, s.UpstreamURL(store, productID))
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetImage(key, img); err != nil {
				log.Debug("image not cached", "key", key, "bytes", len(img.Data), "err", err)
			}
		}
		return img, nil
	})

	select {
	case <-ctx.Done():
		return cache.Image{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return cache.Image{}, res.Err
		}
		return res.Val.(cache.Image), nil
	}
}

func (s *ImageService) fetch(ctx context.Context, upstream string) (cache.Image, error) {
	var img cache.Image
	err := httputil.Retry(ctx, s.cfg.Retries, s.cfg.RetryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "image/*")

		resp, err := s.client.Do(req)
		if err != nil {
			return httputil.Transient(err)
		}
		defer resp.Body.Close()

		if err := httputil.CheckStatus(resp.StatusCode, ""); err != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return err
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
		if err != nil {
			return httputil.Transient(err)
		}
		if len(data) > maxImageBytes {
			return fmt.Errorf("image larger than %d bytes", maxImageBytes)
		}

		ct := resp.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(ct, "image/") {
			ct = http.DetectContentType(data)
		}
		img = cache.Image{ContentType: ct, Data: data}
		return nil
	})
	if err == nil {
		return img, nil
	}

	if httputil.StatusCode(err) == http.StatusNotFound {
		return cache.Image{}, ErrNotFound
	}
	log.Warn("upstream image fetch failed", "url", upstream, "err", err)
	return cache.Image{}, fmt.Errorf("%w: %v", ErrUpstream, err)
}

// Placeholder renders the fallback image for a store.
func (s *ImageService) Placeholder(store string) ([]byte, error) {
	if !ValidID(store) {
		store = ""
	}
	return s.renderer.Placeholder(strings.ToLower(store))
}
