// Package catalog provides a reader for the grocery product CSV.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("catalog: missing required column")

// Product is one row of the catalog.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Store    string  `json:"store"`
	Category string  `json:"category,omitempty"`
	Price    float64 `json:"price"`
	Score    float64 `json:"processing_score"`
	ImageURL string  `json:"image_url,omitempty"`
}

// Stats summarises a loaded catalog.
type Stats struct {
	Products    int            `json:"products"`
	SkippedRows int            `json:"skipped_rows"`
	Stores      map[string]int `json:"stores"`
	MinPrice    float64        `json:"min_price"`
	MaxPrice    float64        `json:"max_price"`
	MinScore    float64        `json:"min_score"`
	MaxScore    float64        `json:"max_score"`
}

// Reader holds the product table in memory.
type Reader struct {
	products []Product
	skipped  int

	stores     []string
	categories []string

	// Filtered index lists, keyed by Filter.Key().
	indexCache *lru.Cache[string, []int]
	indexMu    sync.Mutex
}

// column aliases accepted in the CSV header, lowercased.
var columnAliases = map[string][]string{
	"id":       {"id", "product_id", "productid", "sku"},
	"name":     {"name", "product_name", "title"},
	"store":    {"store", "retailer", "shop"},
	"category": {"category", "aisle"},
	"price":    {"price", "unit_price"},
	"score":    {"processing_score", "score", "nova"},
	"image":    {"image", "image_url", "img"},
}

var requiredColumns = []string{"id", "name", "store", "price", "score"}

// NewReader loads the catalog CSV at path.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	r, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return r, nil
}

// Parse reads a catalog from CSV data.
func Parse(src io.Reader) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := mapColumns(header)
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	indexCache, err := lru.New[string, []int](256)
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}
	r := &Reader{indexCache: indexCache}

	seen := make(map[string]bool)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				r.skipped++
				continue
			}
			return nil, err
		}

		p, ok := parseRow(rec, cols)
		if !ok || seen[p.Store+"/"+p.ID] {
			r.skipped++
			continue
		}
		seen[p.Store+"/"+p.ID] = true
		r.products = append(r.products, p)
	}

	r.stores, r.categories = distinct(r.products)
	return r, nil
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for name, aliases := range columnAliases {
			if _, done := cols[name]; done {
				continue
			}
			for _, a := range aliases {
				if h == a {
					cols[name] = i
					break
				}
			}
		}
	}
	return cols
}

func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseRow(rec []string, cols map[string]int) (Product, bool) {
	p := Product{
		ID:       field(rec, cols, "id"),
		Name:     field(rec, cols, "name"),
		Store:    strings.ToLower(field(rec, cols, "store")),
		Category: field(rec, cols, "category"),
		ImageURL: field(rec, cols, "image"),
	}
	if p.ID == "" || p.Store == "" {
		return Product{}, false
	}

	price, err := strconv.ParseFloat(strings.TrimPrefix(field(rec, cols, "price"), "$"), 64)
	if err != nil || price < 0 {
		return Product{}, false
	}
	score, err := strconv.ParseFloat(field(rec, cols, "score"), 64)
	if err != nil {
		return Product{}, false
	}
	p.Price = price
	p.Score = score
	return p, true
}

func distinct(products []Product) ([]string, []string) {
	storeSet := make(map[string]bool)
	catSet := make(map[string]bool)
	for _, p := range products {
		storeSet[p.Store] = true
		if p.Category != "" {
			catSet[p.Category] = true
		}
	}
	stores := make([]string, 0, len(storeSet))
	for s := range storeSet {
		stores = append(stores, s)
	}
	cats := make([]string, 0, len(catSet))
	for c := range catSet {
		cats = append(cats, c)
	}
	sort.Strings(stores)
	sort.Strings(cats)
	return stores, cats
}

// Stores returns the distinct store names, sorted.
func (r *Reader) Stores() []string { return r.stores }

// Categories returns the distinct categories, sorted.
func (r *Reader) Categories() []string { return r.categories }

// Stats returns catalog statistics.
func (r *Reader) Stats() Stats {
	st := Stats{
		Products:    len(r.products),
		SkippedRows: r.skipped,
		Stores:      make(map[string]int),
	}
	for i, p := range r.products {
		st.Stores[p.Store]++
		if i == 0 || p.Price < st.MinPrice {
			st.MinPrice = p.Price
		}
		if i == 0 || p.Price > st.MaxPrice {
			st.MaxPrice = p.Price
		}
		if i == 0 || p.Score < st.MinScore {
			st.MinScore = p.Score
		}
		if i == 0 || p.Score > st.MaxScore {
			st.MaxScore = p.Score
		}
	}
	return st
}

// Indices returns the indices of products matching f, in file order.
func (r *Reader) Indices(f Filter) []int {
	key := f.Key()
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	if idx, ok := r.indexCache.Get(key); ok {
		return idx
	}
	idx := make([]int, 0, len(r.products))
	for i, p := range r.products {
		if f.Match(p) {
			idx = append(idx, i)
		}
	}
	r.indexCache.Add(key, idx)
	return idx
}
