package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned by Filter.Validate.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter selects a subset of the catalog. Zero fields do not filter.
type Filter struct {
	Store    string   `json:"store,omitempty"`
	Category string   `json:"category,omitempty"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
	MaxScore *float64 `json:"max_score,omitempty"`
}

// Match reports whether p passes the filter.
func (f Filter) Match(p Product) bool {
	if f.Store != "" && !strings.EqualFold(f.Store, p.Store) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, p.Category) {
		return false
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if f.MaxScore != nil && p.Score > *f.MaxScore {
		return false
	}
	return true
}

// Key returns a stable cache key for the filter.
func (f Filter) Key() string {
	return fmt.Sprintf("store=%s|cat=%s|min=%s|max=%s|score=%s",
		strings.ToLower(f.Store),
		strings.ToLower(f.Category),
		fmtBound(f.MinPrice),
		fmtBound(f.MaxPrice),
		fmtBound(f.MaxScore),
	)
}

// Validate rejects non-finite bounds and an inverted price window.
func (f Filter) Validate() error {
	for _, b := range []*float64{f.MinPrice, f.MaxPrice, f.MaxScore} {
		if b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0)) {
			return ErrInvalidFilter
		}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return fmt.Errorf("%w: min_price must not exceed max_price", ErrInvalidFilter)
	}
	return nil
}

func fmtBound(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
