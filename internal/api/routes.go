// Package api provides HTTP handlers for the foodgrid server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/foodgrid/server/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	CORSOrigins    []string
	Catalog        *service.CatalogService
	Images         *service.ImageService
	Canvas         *service.CanvasService
	Labs           *service.LabService
	JobManager     *JobManager
	MaxUploadBytes int64
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Product images, proxied from the store CDNs.
	r.Get("/images/{store}/{productId}", imageHandler(cfg.Images))

	r.Route("/api", func(r chi.Router) {
		if cfg.Catalog != nil {
			r.Get("/products", productsHandler(cfg.Catalog))
			r.Get("/stores", storesHandler(cfg.Catalog))
			r.Get("/categories", categoriesHandler(cfg.Catalog))
			r.Get("/stats", statsHandler(cfg.Catalog, cfg.Canvas))
		}

		r.Route("/canvas/sessions", func(r chi.Router) {
			r.Post("/", canvasCreateHandler(cfg.Canvas))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", canvasViewHandler(cfg.Canvas))
				r.Delete("/", canvasDeleteHandler(cfg.Canvas))
				r.Post("/viewport", canvasViewportHandler(cfg.Canvas))
				r.Get("/placements", canvasViewHandler(cfg.Canvas))
				r.Post("/mode", canvasModeHandler(cfg.Canvas))
				r.Get("/snapshot.png", canvasSnapshotHandler(cfg.Canvas))
			})
		})

		r.Route("/labs", func(r chi.Router) {
			labRoutes(r, cfg)
		})
	})

	// Unprefixed paths used by the standalone lab upload page.
	r.Route("/labs", func(r chi.Router) {
		r.Post("/ingest", labIngestHandler(cfg.Labs, cfg.MaxUploadBytes))
		r.Get("/last", labLastHandler(cfg.Labs))
	})

	return r
}

func labRoutes(r chi.Router, cfg RouterConfig) {
	r.Post("/ingest", labIngestHandler(cfg.Labs, cfg.MaxUploadBytes))
	r.Get("/last", labLastHandler(cfg.Labs))

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", labJobListHandler(cfg.JobManager))
		r.Post("/", labJobSubmitHandler(cfg.JobManager, cfg.Labs, cfg.MaxUploadBytes))
		r.Get("/{job_id}", labJobStatusHandler(cfg.JobManager))
		r.Get("/{job_id}/result", labJobResultHandler(cfg.JobManager))
		r.Delete("/{job_id}", labJobCancelHandler(cfg.JobManager))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
