package labs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"
)

// ErrNoInputs is returned when no supported files are given.
var ErrNoInputs = errors.New("no supported files found to process")

// Backend is the subset of the LLM client the extractor needs.
type Backend interface {
	UploadFile(ctx context.Context, path string) (string, error)
	Respond(ctx context.Context, model string, input []Message) (string, error)
}

// Request describes one extraction.
type Request struct {
	Paths      []string
	Model      string
	PromptPath string
}

// Extractor turns report files into normalised lab JSON.
type Extractor struct {
	backend      Backend
	defaultModel string
}

// NewExtractor creates an extractor using backend. defaultModel is used when
// a request leaves Model empty.
func NewExtractor(backend Backend, defaultModel string) *Extractor {
	if defaultModel == "" {
		defaultModel = "gpt-4.1"
	}
	return &Extractor{backend: backend, defaultModel: defaultModel}
}

// Extract runs one extraction and returns the decoded, normalised result.
// Output that is not JSON comes back as {"raw": text}.
func (e *Extractor) Extract(ctx context.Context, req Request) (any, error) {
	prompts, err := ReadPrompts(req.PromptPath)
	if err != nil {
		return nil, err
	}

	in := Classify(req.Paths)
	if len(in.Ignored) > 0 {
		log.Warn("ignoring unsupported files", "files", in.Ignored)
	}
	if in.Empty() {
		return nil, ErrNoInputs
	}

	user := []ContentPart{{Type: "input_text", Text: prompts.User}}
	for _, p := range in.Images {
		uri, err := EncodeDataURI(p)
		if err != nil {
			return nil, err
		}
		user = append(user, ContentPart{Type: "input_image", ImageURL: uri, Detail: "auto"})
	}
	for _, p := range in.PDFs {
		id, err := e.backend.UploadFile(ctx, p)
		if err != nil {
			return nil, err
		}
		user = append(user, ContentPart{Type: "input_file", FileID: id})
	}

	model := req.Model
	if model == "" {
		model = e.defaultModel
	}
	log.Debug("calling model", "model", model, "images", len(in.Images), "pdfs", len(in.PDFs))

	text, err := e.backend.Respond(ctx, model, []Message{
		{Role: "system", Content: []ContentPart{{Type: "input_text", Text: prompts.System}}},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, err
	}
	return Decode(text, in.PDFNames()), nil
}

// Decode parses model output and applies Normalize.
func Decode(text string, pdfNames []string) any {
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return map[string]any{"raw": text}
	}
	return Normalize(data, pdfNames)
}

