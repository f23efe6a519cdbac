package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"testing"

	"github.com/foodgrid/server/internal/grid"
	"github.com/foodgrid/server/pkg/colormap"
)

func assertPNG(t *testing.T, data []byte) {
	t.Helper()
	if len(data) < 8 || !bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}) {
		t.Fatalf("expected PNG bytes, got %d bytes", len(data))
	}
}

func TestPlaceholder(t *testing.T) {
	r := NewRenderer(Config{PlaceholderSize: 64})

	data, err := r.Placeholder("target")
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	assertPNG(t, data)

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected 64x64, got %v", b)
	}

	again, err := r.Placeholder("  target ")
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Fatalf("expected memoised placeholder for the same label")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRenderer(Config{SnapshotCell: 10})
	rng := grid.Range{ColStart: -1, ColEnd: 2, RowStart: 0, RowEnd: 1}
	placements := []grid.Placement{
		{Cell: grid.Cell{Col: -1, Row: 0}, Item: &grid.Item{ID: "a", Score: 1}},
		{Cell: grid.Cell{Col: 0, Row: 0}, Item: &grid.Item{ID: "b", Score: 4}},
		{Cell: grid.Cell{Col: 1, Row: 1}, Pending: true},
		{Cell: grid.Cell{Col: 9, Row: 9}, Item: &grid.Item{ID: "outside"}},
	}

	data, err := r.Snapshot(rng, placements, ColorByScore)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	assertPNG(t, data)

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("expected 40x20, got %v", b)
	}

	// Centre of the low-score cell is green, the high-score cell red.
	lr, lg, _, _ := img.At(5, 5).RGBA()
	if lg <= lr {
		t.Fatalf("expected green-dominant low score cell, got r=%d g=%d", lr>>8, lg>>8)
	}
	hr, hg, _, _ := img.At(15, 5).RGBA()
	if hr <= hg {
		t.Fatalf("expected red-dominant high score cell, got r=%d g=%d", hr>>8, hg>>8)
	}
	// Empty cell stays white.
	er, eg, eb, _ := img.At(35, 5).RGBA()
	if er>>8 != 255 || eg>>8 != 255 || eb>>8 != 255 {
		t.Fatalf("expected white empty cell, got %d %d %d", er>>8, eg>>8, eb>>8)
	}
}

func TestSnapshotDegenerateRange(t *testing.T) {
	r := NewRenderer(Config{})
	data, err := r.Snapshot(grid.Range{ColStart: 3, ColEnd: 1}, nil, ColorByScore)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	assertPNG(t, data)
}

func TestPlaceholderMemoBounded(t *testing.T) {
	r := NewRenderer(Config{PlaceholderSize: 16, PlaceholderCache: 8})

	for i := 0; i < 50; i++ {
		if _, err := r.Placeholder(fmt.Sprintf("label-%d", i)); err != nil {
			t.Fatalf("Placeholder: %v", err)
		}
	}
	if n := r.placeholders.Len(); n != 8 {
		t.Fatalf("expected memo bounded at 8 labels, got %d", n)
	}
	if !r.placeholders.Contains("label-49") {
		t.Fatalf("expected most recent label to stay memoised")
	}
	if r.placeholders.Contains("label-0") {
		t.Fatalf("expected oldest label to be evicted")
	}
}

func TestParseColorBy(t *testing.T) {
	cases := map[string]ColorBy{"": ColorByScore, "score": ColorByScore, "PRICE": ColorByPrice, " store ": ColorByStore}
	for in, want := range cases {
		got, err := ParseColorBy(in)
		if err != nil {
			t.Fatalf("ParseColorBy(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseColorBy(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseColorBy("rainbow"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func pixel(t *testing.T, data []byte, x, y int) color.RGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func TestSnapshotColorModes(t *testing.T) {
	r := NewRenderer(Config{
		SnapshotCell: 10,
		PriceMin:     1,
		PriceMax:     9,
		Stores:       []string{"walmart", "target", "wholefoods"},
	})
	rng := grid.Range{ColStart: 0, ColEnd: 1, RowStart: 0, RowEnd: 0}
	placements := []grid.Placement{
		{Cell: grid.Cell{Col: 0, Row: 0}, Item: &grid.Item{ID: "a", Store: "Target", Price: 1}},
		{Cell: grid.Cell{Col: 1, Row: 0}, Item: &grid.Item{ID: "b", Store: "wholefoods", Price: 9}},
	}

	data, err := r.Snapshot(rng, placements, ColorByPrice)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got, want := pixel(t, data, 5, 5), colormap.Price.At(0); got != want {
		t.Fatalf("cheap cell: got %#v, want %#v", got, want)
	}
	if got, want := pixel(t, data, 15, 5), colormap.Price.At(1); got != want {
		t.Fatalf("expensive cell: got %#v, want %#v", got, want)
	}

	data, err = r.Snapshot(rng, placements, ColorByStore)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// Stores are ordered alphabetically: target, walmart, wholefoods.
	if got, want := pixel(t, data, 5, 5), colormap.Categorical.AtIndex(0); got != want {
		t.Fatalf("target cell: got %#v, want %#v", got, want)
	}
	if got, want := pixel(t, data, 15, 5), colormap.Categorical.AtIndex(2); got != want {
		t.Fatalf("wholefoods cell: got %#v, want %#v", got, want)
	}
}
