package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/foodgrid/server/internal/data/catalog"
)

// parseBound reads an optional finite float query parameter.
func parseBound(query url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid %s", name)
	}
	return &v, nil
}

// parseFilter builds a catalog filter from store, category, min_price,
// max_price and max_score.
func parseFilter(query url.Values) (catalog.Filter, error) {
	f := catalog.Filter{
		Store:    strings.TrimSpace(query.Get("store")),
		Category: strings.TrimSpace(query.Get("category")),
	}
	var err error
	if f.MinPrice, err = parseBound(query, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = parseBound(query, "max_price"); err != nil {
		return f, err
	}
	if f.MaxScore, err = parseBound(query, "max_score"); err != nil {
		return f, err
	}
	return f, f.Validate()
}

// parseIntParam reads an optional integer, falling back to def.
func parseIntParam(query url.Values, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

// parseBool accepts the usual HTML form spellings.
func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
