package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/foodgrid/server/internal/labs"
	"github.com/foodgrid/server/internal/labstore"
)

var (
	// ErrPromptNotFound is returned when the prompt file does not exist or
	// lies outside the prompt directory.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrNoSample is returned when nothing was uploaded and there are no
	// sample inputs.
	ErrNoSample = errors.New("no files uploaded and no sample inputs available")
)

// LabServiceConfig contains lab extraction settings.
type LabServiceConfig struct {
	Model      string
	PromptPath string
	InputDir   string
	OutputPath string
	UploadDir  string
	APIBaseURL string
	// APIKey is consulted on every request so a key added later is picked up.
	APIKey func() string
	// Backend overrides the REST client, mainly for tests.
	Backend labs.Backend
}

// LabService runs lab extractions synchronously or as jobs.
type LabService struct {
	cfg LabServiceConfig
}

// NewLabService creates a lab service.
func NewLabService(cfg LabServiceConfig) *LabService {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.APIKey == nil {
		cfg.APIKey = func() string { return "" }
	}
	return &LabService{cfg: cfg}
}

// IngestRequest is a parsed ingest form.
type IngestRequest struct {
	Files     []*multipart.FileHeader
	Model     string
	Prompt    string
	UseSample bool
}

func (s *LabService) backend() (labs.Backend, error) {
	if s.cfg.Backend != nil {
		return s.cfg.Backend, nil
	}
	return labs.NewClient(labs.ClientConfig{BaseURL: s.cfg.APIBaseURL, APIKey: s.cfg.APIKey()})
}

// CheckAPIKey fails with labs.ErrMissingAPIKey when no key is configured.
func (s *LabService) CheckAPIKey() error {
	if s.cfg.Backend != nil {
		return nil
	}
	if strings.TrimSpace(s.cfg.APIKey()) == "" {
		return labs.ErrMissingAPIKey
	}
	return nil
}

// ResolvePrompt maps a prompt form value onto a file next to the configured
// prompt. An empty value selects the configured prompt.
func (s *LabService) ResolvePrompt(name string) (string, error) {
	path := s.cfg.PromptPath
	if name = strings.TrimSpace(name); name != "" && name != path {
		path = filepath.Join(filepath.Dir(s.cfg.PromptPath), filepath.Base(name))
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrPromptNotFound, path)
	}
	return path, nil
}

// sampleInputs lists the supported files of the sample directory.
func (s *LabService) sampleInputs() ([]string, error) {
	paths, err := labs.ListDir(s.cfg.InputDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSample
	}
	return paths, err
}

func (s *LabService) hasSample() bool {
	entries, err := os.ReadDir(s.cfg.InputDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			return true
		}
	}
	return false
}

// prepare resolves the inputs of a request. Uploaded files are saved into a
// fresh batch that the caller must clean up.
func (s *LabService) prepare(req IngestRequest) (labstore.JobParams, *labs.Batch, error) {
	prompt, err := s.ResolvePrompt(req.Prompt)
	if err != nil {
		return labstore.JobParams{}, nil, err
	}
	params := labstore.JobParams{Model: req.Model, PromptPath: prompt}
	if params.Model == "" {
		params.Model = s.cfg.Model
	}

	var batch *labs.Batch
	switch {
	case len(req.Files) > 0:
		batch, err = labs.SaveUploads(s.cfg.UploadDir, req.Files)
		if err != nil {
			return labstore.JobParams{}, nil, err
		}
		params.Files = batch.Paths
		params.UploadDir = batch.Dir
	case req.UseSample || s.hasSample():
		params.UseSample = true
		params.Files, err = s.sampleInputs()
		if err != nil {
			return labstore.JobParams{}, nil, err
		}
	default:
		return labstore.JobParams{}, nil, ErrNoSample
	}

	if labs.Classify(params.Files).Empty() {
		batch.Cleanup()
		return labstore.JobParams{}, nil, labs.ErrNoInputs
	}
	return params, batch, nil
}

func (s *LabService) run(ctx context.Context, params labstore.JobParams) (any, error) {
	backend, err := s.backend()
	if err != nil {
		return nil, err
	}
	return labs.NewExtractor(backend, s.cfg.Model).Extract(ctx, labs.Request{
		Paths:      params.Files,
		Model:      params.Model,
		PromptPath: params.PromptPath,
	})
}

func (s *LabService) persist(data any) {
	if s.cfg.OutputPath == "" {
		return
	}
	if err := labs.WriteResult(s.cfg.OutputPath, data); err != nil {
		log.Warn("failed to write last lab result", "path", s.cfg.OutputPath, "err", err)
	}
}

// Ingest extracts labs from uploaded files, or from the sample directory
// when nothing was uploaded, and records the result as the latest one.
func (s *LabService) Ingest(ctx context.Context, req IngestRequest) (any, error) {
	if err := s.CheckAPIKey(); err != nil {
		return nil, err
	}
	params, batch, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	defer batch.Cleanup()

	data, err := s.run(ctx, params)
	if err != nil {
		return nil, err
	}
	s.persist(data)
	return data, nil
}

// Last returns the most recent persisted result.
func (s *LabService) Last() (json.RawMessage, error) {
	return labs.ReadResult(s.cfg.OutputPath)
}

// PrepareJob validates a request and stages its uploads for a background job.
func (s *LabService) PrepareJob(req IngestRequest) (labstore.JobParams, error) {
	if err := s.CheckAPIKey(); err != nil {
		return labstore.JobParams{}, err
	}
	params, _, err := s.prepare(req)
	return params, err
}

// ExecuteJob runs a queued job and stores its result.
func (s *LabService) ExecuteJob(ctx context.Context, store *labstore.Store, job *labstore.Job) error {
	data, err := s.run(ctx, job.Params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := store.SaveResult(job.ID, raw); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	s.persist(data)
	return nil
}

// ReleaseJob removes a finished job's staged uploads.
func (s *LabService) ReleaseJob(job *labstore.Job) {
	if job.Params.UploadDir == "" {
		return
	}
	root, err := filepath.Abs(s.cfg.UploadDir)
	if err != nil {
		return
	}
	labs.ReleaseDir(root, job.Params.UploadDir)
}
