package labs

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	in := Classify([]string{"a.PDF", "scan.jpeg", "notes.txt", "photo.HEIC", "b.pdf", "x"})
	if !reflect.DeepEqual(in.Images, []string{"scan.jpeg", "photo.HEIC"}) {
		t.Fatalf("unexpected images %v", in.Images)
	}
	if !reflect.DeepEqual(in.PDFs, []string{"a.PDF", "b.pdf"}) {
		t.Fatalf("unexpected pdfs %v", in.PDFs)
	}
	if !reflect.DeepEqual(in.Ignored, []string{"notes.txt", "x"}) {
		t.Fatalf("unexpected ignored %v", in.Ignored)
	}
	if in.Empty() {
		t.Fatalf("expected non-empty inputs")
	}
	if !Classify([]string{"a.txt"}).Empty() {
		t.Fatalf("expected empty inputs")
	}
}

func TestEncodeDataURI(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "a.png")
	odd := filepath.Join(dir, "a.bin")
	os.WriteFile(png, []byte("hi"), 0o644)
	os.WriteFile(odd, []byte("hi"), 0o644)

	uri, err := EncodeDataURI(png)
	if err != nil {
		t.Fatalf("EncodeDataURI: %v", err)
	}
	if uri != "data:image/png;base64,aGk=" {
		t.Fatalf("unexpected uri %q", uri)
	}
	uri, _ = EncodeDataURI(odd)
	if !strings.HasPrefix(uri, "data:application/octet-stream;base64,") {
		t.Fatalf("expected octet-stream fallback, got %q", uri)
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.jpg", "readme.md"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755)

	got, err := ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.pdf")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
