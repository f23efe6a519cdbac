// Package render draws placeholder images and canvas occupancy previews using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/foodgrid/server/internal/grid"
	"github.com/foodgrid/server/pkg/colormap"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ColorBy selects how filled snapshot cells are colored.
type ColorBy string

const (
	ColorByScore ColorBy = "score"
	ColorByPrice ColorBy = "price"
	ColorByStore ColorBy = "store"
)

// ParseColorBy maps a query value to a ColorBy. Empty means score.
func ParseColorBy(s string) (ColorBy, error) {
	switch ColorBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ColorByScore:
		return ColorByScore, nil
	case ColorByPrice:
		return ColorByPrice, nil
	case ColorByStore:
		return ColorByStore, nil
	}
	return "", fmt.Errorf("unknown color mode %q", s)
}

// Config contains renderer configuration.
type Config struct {
	PlaceholderSize  int // square placeholder edge in pixels
	PlaceholderCache int // memoised placeholder labels
	SnapshotCell     int // pixels per grid cell in previews
	ScoreMin         float64
	ScoreMax         float64
	PriceMin         float64
	PriceMax         float64
	Stores           []string // palette order for ColorByStore
}

// Renderer renders PNG images.
type Renderer struct {
	config     Config
	bufferPool sync.Pool
	storeIndex map[string]int

	placeholders *lru.Cache[string, []byte]
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.PlaceholderSize <= 0 {
		cfg.PlaceholderSize = 256
	}
	if cfg.SnapshotCell <= 0 {
		cfg.SnapshotCell = 16
	}
	if cfg.PlaceholderCache <= 0 {
		cfg.PlaceholderCache = 64
	}
	if cfg.ScoreMax <= cfg.ScoreMin {
		cfg.ScoreMin, cfg.ScoreMax = 1, 4
	}

	stores := append([]string(nil), cfg.Stores...)
	sort.Strings(stores)
	storeIndex := make(map[string]int, len(stores))
	for i, s := range stores {
		storeIndex[strings.ToLower(s)] = i
	}

	// lru.New only fails on a non-positive size.
	placeholders, _ := lru.New[string, []byte](cfg.PlaceholderCache)

	return &Renderer{
		config:     cfg,
		storeIndex: storeIndex,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 16*1024))
			},
		},
		placeholders: placeholders,
	}
}

// Placeholder renders the fallback image shown when a product photo cannot
// be fetched. Recent labels are memoised.
func (r *Renderer) Placeholder(label string) ([]byte, error) {
	label = strings.TrimSpace(label)
	if len(label) > 24 {
		label = label[:24]
	}

	if data, ok := r.placeholders.Get(label); ok {
		return data, nil
	}

	size := float64(r.config.PlaceholderSize)
	dc := gg.NewContext(r.config.PlaceholderSize, r.config.PlaceholderSize)
	dc.SetColor(color.RGBA{R: 238, G: 238, B: 238, A: 255})
	dc.Clear()

	// Plate outline.
	dc.SetColor(color.RGBA{R: 200, G: 200, B: 200, A: 255})
	dc.SetLineWidth(size / 40)
	dc.DrawCircle(size/2, size/2-size/10, size/4)
	dc.Stroke()

	if label != "" {
		dc.SetColor(color.RGBA{R: 110, G: 110, B: 110, A: 255})
		dc.DrawStringAnchored(label, size/2, size*0.82, 0.5, 0.5)
	}

	data, err := r.encodeContext(dc)
	if err != nil {
		return nil, err
	}

	r.placeholders.Add(label, data)
	return data, nil
}

// Snapshot renders the occupancy of a tracker over rng. Filled cells are
// colored according to by, pending cells are hatched gray, empty cells stay white.
func (r *Renderer) Snapshot(rng grid.Range, placements []grid.Placement, by ColorBy) ([]byte, error) {
	cell := r.config.SnapshotCell
	cols := rng.ColEnd - rng.ColStart + 1
	rows := rng.RowEnd - rng.RowStart + 1
	if cols <= 0 || rows <= 0 {
		cols, rows = 1, 1
	}
	const maxCells = 256
	if cols > maxCells {
		cols = maxCells
	}
	if rows > maxCells {
		rows = maxCells
	}

	dc := gg.NewContext(cols*cell, rows*cell)
	dc.SetColor(color.White)
	dc.Clear()

	cs := float64(cell)
	for _, p := range placements {
		if !rng.Contains(p.Cell) {
			continue
		}
		x := float64(p.Cell.Col-rng.ColStart) * cs
		y := float64(p.Cell.Row-rng.RowStart) * cs
		if x >= float64(cols)*cs || y >= float64(rows)*cs {
			continue
		}

		if p.Pending || p.Item == nil {
			dc.SetColor(color.RGBA{R: 190, G: 190, B: 190, A: 255})
			dc.DrawRectangle(x+1, y+1, cs-2, cs-2)
			dc.Fill()
			dc.SetColor(color.RGBA{R: 150, G: 150, B: 150, A: 255})
			dc.SetLineWidth(1)
			dc.DrawLine(x+1, y+cs-1, x+cs-1, y+1)
			dc.Stroke()
			continue
		}

		dc.SetColor(r.cellColor(p.Item, by))
		dc.DrawRectangle(x+1, y+1, cs-2, cs-2)
		dc.Fill()
	}

	// Grid lines
	dc.SetColor(color.RGBA{R: 225, G: 225, B: 225, A: 255})
	dc.SetLineWidth(1)
	for c := 0; c <= cols; c++ {
		dc.DrawLine(float64(c)*cs, 0, float64(c)*cs, float64(rows)*cs)
	}
	for rr := 0; rr <= rows; rr++ {
		dc.DrawLine(0, float64(rr)*cs, float64(cols)*cs, float64(rr)*cs)
	}
	dc.Stroke()

	return r.encodeContext(dc)
}

func (r *Renderer) cellColor(item *grid.Item, by ColorBy) color.Color {
	switch by {
	case ColorByPrice:
		return colormap.Price.At(colormap.Normalize(item.Price, r.config.PriceMin, r.config.PriceMax))
	case ColorByStore:
		idx, ok := r.storeIndex[strings.ToLower(item.Store)]
		if !ok {
			idx = len(r.storeIndex)
		}
		return colormap.Categorical.AtIndex(idx)
	default:
		return colormap.ScoreColor(item.Score, r.config.ScoreMin, r.config.ScoreMax)
	}
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer r.bufferPool.Put(buf)

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
