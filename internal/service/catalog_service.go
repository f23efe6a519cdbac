// Package service provides business logic for the foodgrid server.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/foodgrid/server/internal/cache"
	"github.com/foodgrid/server/internal/data/catalog"
	"github.com/foodgrid/server/internal/grid"
)

// MaxProductsPerQuery caps the count parameter of product queries.
const MaxProductsPerQuery = 500

// CatalogService answers product queries and feeds canvas sessions.
type CatalogService struct {
	reader *catalog.Reader
	cache  *cache.Manager
}

// NewCatalogService creates a catalog service. cache may be nil.
func NewCatalogService(reader *catalog.Reader, cm *cache.Manager) *CatalogService {
	return &CatalogService{reader: reader, cache: cm}
}

// Reader returns the underlying catalog.
func (s *CatalogService) Reader() *catalog.Reader {
	return s.reader
}

// ProductsResponse is the body of a product query.
type ProductsResponse struct {
	Count    int               `json:"count"`
	Matching int               `json:"matching"`
	Seed     int64             `json:"seed"`
	Filter   catalog.Filter    `json:"filter"`
	Products []catalog.Product `json:"products"`
}

// ProductsJSON returns a seeded sample of products matching f as JSON.
// Identical queries are served from the query cache.
func (s *CatalogService) ProductsJSON(f catalog.Filter, count int, seed int64) ([]byte, error) {
	if count <= 0 {
		count = 24
	}
	if count > MaxProductsPerQuery {
		count = MaxProductsPerQuery
	}

	key := cache.ProductsKey(f.Key(), count, seed)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	products := s.reader.Sample(f, count, seed)
	if products == nil {
		products = []catalog.Product{}
	}
	data, err := json.Marshal(ProductsResponse{
		Count:    len(products),
		Matching: len(s.reader.Indices(f)),
		Seed:     seed,
		Filter:   f,
		Products: products,
	})
	if err != nil {
		return nil, fmt.Errorf("encode products: %w", err)
	}

	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// Stores lists the distinct stores.
func (s *CatalogService) Stores() []string {
	return s.reader.Stores()
}

// Categories lists the distinct categories.
func (s *CatalogService) Categories() []string {
	return s.reader.Categories()
}

// Stats summarises the catalog.
func (s *CatalogService) Stats() catalog.Stats {
	return s.reader.Stats()
}

// CacheStats reports image and query cache counters, or nil without a cache.
func (s *CatalogService) CacheStats() map[string]interface{} {
	if s.cache == nil {
		return nil
	}
	return s.cache.Stats()
}

// ImagePath is the proxied image path for a product.
func ImagePath(store, id string) string {
	return "/images/" + url.PathEscape(store) + "/" + url.PathEscape(id)
}

// ToItem converts a product into canvas content.
func ToItem(p catalog.Product) grid.Item {
	return grid.Item{
		ID:       p.ID,
		Name:     p.Name,
		Store:    p.Store,
		ImageRef: ImagePath(p.Store, p.ID),
		Price:    p.Price,
		Score:    p.Score,
	}
}

// Source returns a content source walking the products matching f in a
// seeded order. Each product is handed out at most once.
func (s *CatalogService) Source(f catalog.Filter, seed int64) grid.Source {
	cur := s.reader.NewCursor(f, seed)
	return grid.SourceFunc(func(ctx context.Context, count int) ([]grid.Item, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		products := cur.Next(count)
		items := make([]grid.Item, len(products))
		for i, p := range products {
			items[i] = ToItem(p)
		}
		return items, nil
	})
}
