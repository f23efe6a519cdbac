package labs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foodgrid/server/internal/httputil"
)

// ErrMissingAPIKey is returned when no LLM API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

// ClientConfig configures the LLM REST client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// Client talks to an OpenAI-compatible Responses and Files API.
type Client struct {
	baseURL string
	apiKey  string
	retries int
	http    *http.Client
}

// NewClient creates a client. An empty API key is rejected.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		retries: cfg.Retries,
		http:    hc,
	}, nil
}

// ContentPart is one element of a message's content list.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

// Message is a role-tagged input message.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type textFormat struct {
	Format struct {
		Type string `json:"type"`
	} `json:"format"`
}

type responsesRequest struct {
	Model       string     `json:"model"`
	Input       []Message  `json:"input"`
	Temperature float64    `json:"temperature"`
	Text        textFormat `json:"text"`
}

type responsesBody struct {
	OutputText *string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// UploadFile uploads path to the files endpoint with purpose "assistants"
// and returns the file id.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	raw, err := c.post(ctx, "/files", mw.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("upload response missing file id")
	}
	return out.ID, nil
}

// Respond sends the messages with temperature 0 in JSON-object mode and
// returns the model's text output.
func (c *Client) Respond(ctx context.Context, model string, input []Message) (string, error) {
	req := responsesRequest{Model: model, Input: input}
	req.Text.Format.Type = "json_object"

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	raw, err := c.post(ctx, "/responses", "application/json", payload)
	if err != nil {
		return "", fmt.Errorf("responses call: %w", err)
	}
	return OutputText(raw), nil
}

// OutputText pulls the text out of a Responses API body: the output_text
// convenience field, else the concatenated output_text parts, else the raw
// body itself.
func OutputText(raw []byte) string {
	var body responsesBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return string(raw)
	}
	if body.OutputText != nil && strings.TrimSpace(*body.OutputText) != "" {
		return *body.OutputText
	}
	var sb strings.Builder
	for _, item := range body.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	if text := strings.TrimSpace(sb.String()); text != "" {
		return text
	}
	return string(raw)
}

func (c *Client) post(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	var raw []byte
	err := httputil.Retry(ctx, c.retries, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return httputil.Transient(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return httputil.Transient(err)
		}
		if err := httputil.CheckStatus(resp.StatusCode, truncate(string(body), 512)); err != nil {
			return err
		}
		raw = body
		return nil
	})
	return raw, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
