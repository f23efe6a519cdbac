// Package colormap provides color schemes for product cards and canvas previews.
package colormap

import (
	"image/color"
	"math"
)

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 || math.IsNaN(t) {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Processing runs from minimally processed (green) to ultra-processed (red).
var Processing = LinearColormap{
	colors: []color.RGBA{
		{26, 152, 80, 255},
		{145, 207, 96, 255},
		{254, 224, 139, 255},
		{252, 141, 89, 255},
		{215, 48, 39, 255},
	},
}

// Price is a light-to-dark blue ramp for price heat.
var Price = LinearColormap{
	colors: []color.RGBA{
		{239, 243, 255, 255},
		{189, 215, 231, 255},
		{107, 174, 214, 255},
		{49, 130, 189, 255},
		{8, 81, 156, 255},
	},
}

// CategoricalColormap provides distinct colors for stores.
type CategoricalColormap struct {
	colors []color.RGBA
}

// AtIndex returns the color for category i, wrapping past the palette end.
func (c CategoricalColormap) AtIndex(i int) color.Color {
	if i < 0 {
		i = -i
	}
	return c.colors[i%len(c.colors)]
}

// Categorical colormap with 10 distinct colors
var Categorical = CategoricalColormap{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
	},
}

// Normalize maps v from [lo, hi] to [0, 1], clamping. A degenerate range
// maps everything to 0.
func Normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	t := (v - lo) / (hi - lo)
	return math.Max(0, math.Min(1, t))
}

// ScoreColor colors a processing score on the [lo, hi] scale.
func ScoreColor(score, lo, hi float64) color.Color {
	return Processing.At(Normalize(score, lo, hi))
}
