package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// affine maps pixel (col, row) to CRS coordinates:
// x = a + b*col + c*row, y = d + e*col + f*row.
type affine struct {
	a, b, c, d, e, f float64
}

func (t affine) apply(col, row float64) (x, y float64) {
	return t.a + t.b*col + t.c*row, t.d + t.e*col + t.f*row
}

// invert maps CRS coordinates back to fractional pixel coordinates.
func (t affine) invert(x, y float64) (col, row float64) {
	det := t.b*t.f - t.c*t.e
	dx, dy := x-t.a, y-t.d
	return (t.f*dx - t.c*dy) / det, (-t.e*dx + t.b*dy) / det
}

// readTransform derives the pixel-to-CRS transform from either
// ModelTransformation or ModelTiepoint with ModelPixelScale. The result
// always addresses pixel corners.
func readTransform(d *directory, keys geoKeys) (affine, error) {
	var t affine
	if m := d.ModelTransformation; len(m) >= 16 {
		t = affine{a: m[3], b: m[0], c: m[1], d: m[7], e: m[4], f: m[5]}
	} else {
		tie := d.ModelTiepoint
		scale := d.ModelPixelScale
		if len(tie) < 6 || len(scale) < 2 {
			return affine{}, eris.Wrap(ErrUnsupported, "raster: no georeferencing")
		}
		t = affine{
			a: tie[3] - tie[0]*scale[0],
			b: scale[0],
			d: tie[4] + tie[1]*scale[1],
			f: -scale[1],
		}
	}

	det := t.b*t.f - t.c*t.e
	if det == 0 || math.IsNaN(det) {
		return affine{}, eris.New("raster: degenerate georeferencing")
	}

	if keys.pixelIsPoint() {
		t.a -= 0.5*t.b + 0.5*t.c
		t.d -= 0.5*t.e + 0.5*t.f
	}
	return t, nil
}
