package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/foodgrid/server/internal/service"
	"github.com/go-chi/chi/v5"
)

func imageHandler(svc *service.ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "image proxy not configured", http.StatusNotImplemented)
			return
		}
		store := chi.URLParam(r, "store")
		productID := chi.URLParam(r, "productId")

		img, err := svc.Get(r.Context(), store, productID)
		if err == nil {
			w.Header().Set("Content-Type", img.ContentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
			w.Header().Set("Cache-Control", "public, max-age=86400")
			w.Write(img.Data)
			return
		}

		if errors.Is(err, service.ErrInvalidID) {
			http.Error(w, "invalid store or product id", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("fallback") == "placeholder" {
			if data, perr := svc.Placeholder(store); perr == nil {
				w.Header().Set("Content-Type", "image/png")
				w.Header().Set("Cache-Control", "public, max-age=300")
				w.Write(data)
				return
			}
		}
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, "image not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch image", http.StatusBadGateway)
	}
}
