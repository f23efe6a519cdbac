// Package grid maps a pannable, zoomable viewport onto a discrete cell grid
// and tracks which cells already hold content.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// Limits applied to client viewports.
const (
	MinZoom      = 0.05
	MaxZoom      = 20
	MaxScreen    = 16384 // pixels per side
	MaxOffset    = 1e9
	MaxRangeSpan = 256 // cells per axis returned by VisibleRange
)

// ErrInvalidViewport is returned by Viewport.Validate.
var ErrInvalidViewport = errors.New("invalid viewport")

// Viewport is the visible window into the canvas.
// Screen coordinates relate to world coordinates as screen = world*Zoom + Offset.
type Viewport struct {
	OffsetX float64 `json:"x"`
	OffsetY float64 `json:"y"`
	Zoom    float64 `json:"zoom"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Validate rejects viewports a client cannot legitimately send. A zero zoom
// means "unset" and is accepted.
func (vp Viewport) Validate() error {
	for _, v := range []float64{vp.OffsetX, vp.OffsetY, vp.Zoom, vp.Width, vp.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidViewport)
		}
	}
	if vp.Zoom != 0 && (vp.Zoom < MinZoom || vp.Zoom > MaxZoom) {
		return fmt.Errorf("%w: zoom must be within [%g, %g]", ErrInvalidViewport, float64(MinZoom), float64(MaxZoom))
	}
	if vp.Width < 0 || vp.Height < 0 || vp.Width > MaxScreen || vp.Height > MaxScreen {
		return fmt.Errorf("%w: width and height must be within [0, %d]", ErrInvalidViewport, MaxScreen)
	}
	if math.Abs(vp.OffsetX) > MaxOffset || math.Abs(vp.OffsetY) > MaxOffset {
		return fmt.Errorf("%w: offset out of range", ErrInvalidViewport)
	}
	return nil
}

// Cell addresses one slot in the infinite content grid.
type Cell struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Col, c.Row)
}

// Less orders cells row-major.
func (c Cell) Less(o Cell) bool {
	if c.Row != o.Row {
		return c.Row < o.Row
	}
	return c.Col < o.Col
}

// Range is an inclusive block of grid indices.
type Range struct {
	ColStart int `json:"col_start"`
	ColEnd   int `json:"col_end"`
	RowStart int `json:"row_start"`
	RowEnd   int `json:"row_end"`
}

// Contains reports whether c lies inside r.
func (r Range) Contains(c Cell) bool {
	return c.Col >= r.ColStart && c.Col <= r.ColEnd &&
		c.Row >= r.RowStart && c.Row <= r.RowEnd
}

// Len returns the number of cells in r.
func (r Range) Len() int {
	return (r.ColEnd - r.ColStart + 1) * (r.RowEnd - r.RowStart + 1)
}

// Cells lists every cell of r in row-major order.
func (r Range) Cells() []Cell {
	out := make([]Cell, 0, r.Len())
	for row := r.RowStart; row <= r.RowEnd; row++ {
		for col := r.ColStart; col <= r.ColEnd; col++ {
			out = append(out, Cell{Col: col, Row: row})
		}
	}
	return out
}

// VisibleRange converts a viewport into the inclusive range of cells it
// covers, grown by bufferCells on every side. Each axis is capped at
// MaxRangeSpan cells, keeping the leading edge.
func VisibleRange(vp Viewport, cellWidth, cellHeight float64, bufferCells int) Range {
	zoom := vp.Zoom
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		zoom = 1
	}
	if bufferCells < 0 {
		bufferCells = 0
	}

	colStart, colEnd := axisSpan(vp.OffsetX, vp.Width, zoom, cellWidth)
	rowStart, rowEnd := axisSpan(vp.OffsetY, vp.Height, zoom, cellHeight)

	if bufferCells > MaxRangeSpan {
		bufferCells = MaxRangeSpan
	}
	return Range{
		ColStart: colStart - bufferCells,
		ColEnd:   capSpan(colStart-bufferCells, colEnd+bufferCells),
		RowStart: rowStart - bufferCells,
		RowEnd:   capSpan(rowStart-bufferCells, rowEnd+bufferCells),
	}
}

func capSpan(start, end int) int {
	if end-start+1 > MaxRangeSpan {
		return start + MaxRangeSpan - 1
	}
	return end
}

// maxIndex bounds cell indices so float to int conversion cannot overflow.
const maxIndex = 1 << 40

func clampIndex(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-maxIndex, math.Min(maxIndex, v))
}

// axisSpan returns the first and last cell index touched along one axis.
// A degenerate span collapses to the single cell under the leading edge.
func axisSpan(offset, extent, zoom, cellSize float64) (int, int) {
	if cellSize <= 0 {
		cellSize = 1
	}
	if extent < 0 || math.IsNaN(extent) {
		extent = 0
	}
	lo := -offset / zoom
	hi := (extent - offset) / zoom

	start := int(clampIndex(math.Floor(lo / cellSize)))
	end := int(clampIndex(math.Ceil(hi/cellSize))) - 1
	if end < start {
		end = start
	}
	return start, end
}

// Registry answers occupancy questions for a set of cells.
type Registry interface {
	Has(c Cell) bool
}

// UnfilledCells lists the cells of r that are not in reg, row-major.
func UnfilledCells(r Range, reg Registry) []Cell {
	return FirstUnfilled(r, reg, 0)
}

// FirstUnfilled is UnfilledCells stopping after limit cells. A limit <= 0
// means no limit.
func FirstUnfilled(r Range, reg Registry, limit int) []Cell {
	var out []Cell
	for row := r.RowStart; row <= r.RowEnd; row++ {
		for col := r.ColStart; col <= r.ColEnd; col++ {
			c := Cell{Col: col, Row: row}
			if reg != nil && reg.Has(c) {
				continue
			}
			out = append(out, c)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// Item is a content record placed on the canvas.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Store    string  `json:"store"`
	ImageRef string  `json:"image"`
	Price    float64 `json:"price"`
	Score    float64 `json:"score"`
}

// Placement binds an item to a cell. Pending placements are placeholders for
// cells whose fetch is still in flight.
type Placement struct {
	Cell    Cell  `json:"cell"`
	Item    *Item `json:"item,omitempty"`
	Pending bool  `json:"pending,omitempty"`
}
