package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/foodgrid/server/internal/data/catalog"
	"github.com/foodgrid/server/internal/grid"
	"github.com/foodgrid/server/internal/render"
	"github.com/foodgrid/server/internal/service"
	"github.com/go-chi/chi/v5"
)

// viewportWait bounds how long a viewport update waits for its batch.
const viewportWait = 5 * time.Second

type modeRequest struct {
	catalog.Filter
	Seed int64 `json:"seed"`
}

func decodeMode(r *http.Request) (modeRequest, error) {
	var req modeRequest
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req)
	if errors.Is(err, io.EOF) {
		return req, nil
	}
	if err != nil {
		return req, err
	}
	return req, req.Filter.Validate()
}

func writeCanvasError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, grid.ErrInvalidViewport):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func canvasCreateHandler(svc *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "canvas not configured", http.StatusNotImplemented)
			return
		}
		req, err := decodeMode(r)
		if err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		s := svc.Create(req.Filter, req.Seed)
		f, seed := s.Mode()
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"session_id": s.ID,
			"filter":     f,
			"seed":       seed,
			"grid":       s.Tracker().Config(),
		})
	}
}

func canvasViewportHandler(svc *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "canvas not configured", http.StatusNotImplemented)
			return
		}
		var vp grid.Viewport
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&vp); err != nil {
			http.Error(w, "invalid viewport: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := vp.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		wait := r.URL.Query().Get("wait") != "false"

		ctx, cancel := context.WithTimeout(r.Context(), viewportWait)
		defer cancel()

		view, err := svc.UpdateViewport(ctx, chi.URLParam(r, "id"), vp, wait)
		if err != nil {
			writeCanvasError(w, err)
			return
		}
		status := http.StatusOK
		if !wait {
			status = http.StatusAccepted
		}
		writeJSON(w, status, view)
	}
}

func canvasViewHandler(svc *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "canvas not configured", http.StatusNotImplemented)
			return
		}
		view, err := svc.View(chi.URLParam(r, "id"))
		if err != nil {
			writeCanvasError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func canvasModeHandler(svc *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "canvas not configured", http.StatusNotImplemented)
			return
		}
		req, err := decodeMode(r)
		if err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		view, err := svc.SetMode(chi.URLParam(r, "id"), req.Filter, req.Seed)
		if err != nil {
			writeCanvasError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func canvasSnapshotHandler(svc *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "canvas not configured", http.StatusNotImplemented)
			return
		}
		by, err := render.ParseColorBy(r.URL.Query().Get("color"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := svc.Snapshot(chi.URLParam(r, "id"), by)
		if err != nil {
			writeCanvasError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}

func canvasDeleteHandler(svc *service.CanvasService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "canvas not configured", http.StatusNotImplemented)
			return
		}
		id := chi.URLParam(r, "id")
		if err := svc.Delete(id); err != nil {
			writeCanvasError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id": id,
			"deleted":    true,
		})
	}
}
