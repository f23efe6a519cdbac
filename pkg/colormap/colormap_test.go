package colormap

import (
	"image/color"
	"math"
	"testing"
)

func TestProcessingColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Processing.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 26, G: 152, B: 80, A: 255}) {
		t.Fatalf("unexpected Processing.At(0): %#v", c0)
	}

	c1, ok := Processing.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 215, G: 48, B: 39, A: 255}) {
		t.Fatalf("unexpected Processing.At(1): %#v", c1)
	}

	if Processing.At(math.NaN()) != Processing.At(0) {
		t.Fatalf("expected NaN to map to the first color")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v, lo, hi, want float64
	}{
		{1, 1, 4, 0},
		{4, 1, 4, 1},
		{2.5, 1, 4, 0.5},
		{-3, 1, 4, 0},
		{9, 1, 4, 1},
		{2, 3, 3, 0},
	}
	for _, c := range cases {
		if got := Normalize(c.v, c.lo, c.hi); got != c.want {
			t.Errorf("Normalize(%v, %v, %v) = %v, want %v", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

func TestPriceRampDarkens(t *testing.T) {
	t.Parallel()

	lo, ok := Price.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	hi, ok := Price.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if hi.R >= lo.R || hi.G >= lo.G {
		t.Fatalf("expected expensive end darker: lo=%#v hi=%#v", lo, hi)
	}
	if ScoreColor(1, 1, 4) != Processing.At(0) {
		t.Fatalf("expected lowest score on the first Processing color")
	}
}

func TestCategoricalWraps(t *testing.T) {
	t.Parallel()

	if Categorical.AtIndex(0) != Categorical.AtIndex(10) {
		t.Fatalf("expected AtIndex to wrap")
	}
	if Categorical.AtIndex(-1) != Categorical.AtIndex(1) {
		t.Fatalf("expected negative index to mirror")
	}
}
