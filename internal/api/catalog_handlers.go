package api

import (
	"net/http"

	"github.com/foodgrid/server/internal/data/catalog"
	"github.com/foodgrid/server/internal/service"
)

// statsResponse keeps catalog figures at the top level.
type statsResponse struct {
	catalog.Stats
	Cache          map[string]interface{} `json:"cache,omitempty"`
	CanvasSessions int                    `json:"canvas_sessions"`
}

func productsHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		f, err := parseFilter(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		count, err := parseIntParam(query, "count", 24)
		if err != nil || count < 0 {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
		seed, err := parseIntParam(query, "seed", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := svc.ProductsJSON(f, int(count), seed)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeRawJSON(w, data)
	}
}

func storesHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"stores": svc.Stores()})
	}
}

func categoriesHandler(svc *service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"categories": svc.Categories()})
	}
}

func statsHandler(svc *service.CatalogService, canvas *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Stats: svc.Stats(), Cache: svc.CacheStats()}
		if canvas != nil {
			resp.CanvasSessions = canvas.Len()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
