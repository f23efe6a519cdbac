package labs

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Batch is a set of uploaded files stored in their own directory.
type Batch struct {
	root  string
	Dir   string
	Paths []string
}

// SaveUploads copies files into a fresh root/<uuid>/ directory.
func SaveUploads(root string, files []*multipart.FileHeader) (*Batch, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(absRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	b := &Batch{root: absRoot, Dir: dir}
	for i, fh := range files {
		name := sanitizeName(fh.Filename, i)
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil {
			dest = filepath.Join(dir, fmt.Sprintf("%d-%s", i, name))
		}
		if err := copyUpload(fh, dest); err != nil {
			b.Cleanup()
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
		b.Paths = append(b.Paths, dest)
	}
	return b, nil
}

// Cleanup removes the batch directory. A nil batch is a no-op.
func (b *Batch) Cleanup() {
	if b == nil || b.Dir == "" {
		return
	}
	ReleaseDir(b.root, b.Dir)
}

// ReleaseDir removes dir if it is a direct child of root. Anything else,
// including root itself, is left alone.
func ReleaseDir(root, dir string) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.Contains(rel, string(filepath.Separator)) {
		log.Warn("refusing to remove upload dir", "dir", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove upload dir", "dir", dir, "err", err)
	}
}

func sanitizeName(name string, i int) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return fmt.Sprintf("upload-%d", i)
	}
	return name
}

func copyUpload(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
