package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/foodgrid/server/internal/labs"
	"github.com/foodgrid/server/internal/labstore"
	"github.com/foodgrid/server/internal/service"
	"github.com/go-chi/chi/v5"
)

const defaultMaxUpload = 50 << 20

// parseIngestForm reads the multipart fields shared by ingest and job submit.
func parseIngestForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (service.IngestRequest, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var req service.IngestRequest
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, err
	}
	if r.MultipartForm != nil {
		req.Files = r.MultipartForm.File["files"]
	}
	req.Model = r.FormValue("model")
	req.Prompt = r.FormValue("prompt")
	req.UseSample = parseBool(r.FormValue("use_sample"))
	return req, nil
}

func writeLabError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, labs.ErrMissingAPIKey):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case errors.Is(err, service.ErrPromptNotFound),
		errors.Is(err, service.ErrNoSample),
		errors.Is(err, labs.ErrNoInputs),
		errors.Is(err, labs.ErrPromptBlocks):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "lab extraction failed: "+err.Error(), http.StatusBadGateway)
	}
}

func labIngestHandler(svc *service.LabService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "lab extraction not configured", http.StatusNotImplemented)
			return
		}
		if err := svc.CheckAPIKey(); err != nil {
			writeLabError(w, err)
			return
		}
		req, err := parseIngestForm(w, r, maxBytes)
		if err != nil {
			http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
		data, err := svc.Ingest(r.Context(), req)
		if err != nil {
			writeLabError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

func labLastHandler(svc *service.LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			http.Error(w, "lab extraction not configured", http.StatusNotImplemented)
			return
		}
		data, err := svc.Last()
		if errors.Is(err, labs.ErrNoResult) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to read labs.json: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeRawJSON(w, data)
	}
}

func labJobSubmitHandler(jm *JobManager, svc *service.LabService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil || svc == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		if err := svc.CheckAPIKey(); err != nil {
			writeLabError(w, err)
			return
		}
		req, err := parseIngestForm(w, r, maxBytes)
		if err != nil {
			http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
		params, err := svc.PrepareJob(req)
		if err != nil {
			writeLabError(w, err)
			return
		}

		job, err := jm.Submit(params)
		if errors.Is(err, ErrQueueFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			svc.ReleaseJob(&labstore.Job{Params: params})
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func labJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		jobs, err := jm.Store().ListJobs(limit)
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if jobs == nil {
			jobs = []*labstore.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}
}

func labJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job := jm.Get(chi.URLParam(r, "job_id"))
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"files":       len(job.Params.Files),
			"model":       job.Params.Model,
			"has_result":  job.HasResult,
			"error":       job.Error,
		})
	}
}

func labJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if job.Status != labstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}
		data, err := jm.Store().GetResult(jobID)
		if err != nil {
			http.Error(w, "failed to load result: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeRawJSON(w, data)
	}
}

func labJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if parseBool(r.URL.Query().Get("purge")) {
			if !job.Status.Terminal() {
				jm.Cancel(jobID)
			}
			if err := jm.Delete(jobID); err != nil && !errors.Is(err, labstore.ErrNotFound) {
				http.Error(w, "failed to delete job: "+err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "deleted": true})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": jm.Cancel(jobID),
		})
	}
}
