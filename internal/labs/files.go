package labs

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsPDF reports whether path is a PDF by extension.
func IsPDF(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".pdf"
}

// Supported reports whether path is an image or a PDF.
func Supported(path string) bool {
	return IsImage(path) || IsPDF(path)
}

// Inputs is a set of files split by how they are sent to the model.
type Inputs struct {
	Images  []string
	PDFs    []string
	Ignored []string
}

// Classify splits paths into images, PDFs and unsupported files, keeping order.
func Classify(paths []string) Inputs {
	var in Inputs
	for _, p := range paths {
		switch {
		case IsImage(p):
			in.Images = append(in.Images, p)
		case IsPDF(p):
			in.PDFs = append(in.PDFs, p)
		default:
			in.Ignored = append(in.Ignored, p)
		}
	}
	return in
}

// Empty reports whether there is nothing to send.
func (in Inputs) Empty() bool {
	return len(in.Images) == 0 && len(in.PDFs) == 0
}

// PDFNames returns the base names of the PDF inputs.
func (in Inputs) PDFNames() []string {
	names := make([]string, 0, len(in.PDFs))
	for _, p := range in.PDFs {
		names = append(names, filepath.Base(p))
	}
	return names
}

// MimeType guesses a content type from the extension.
func MimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if m, ok := imageExts[ext]; ok {
		return m
	}
	if ext == ".pdf" {
		return "application/pdf"
	}
	return "application/octet-stream"
}

// EncodeDataURI reads path and returns it as a base64 data URI.
func EncodeDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return "data:" + MimeType(path) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ListDir returns the supported files directly inside dir, sorted by name.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if Supported(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
