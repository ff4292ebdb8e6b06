// Package pointcloud holds scene and model point sets: organized depth-camera clouds, voxel
// down-sampling and the file formats they are read from.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Organized is a point cloud laid out like the image it was captured from. Invalid pixels hold
// NaN coordinates.
type Organized struct {
	Width  int
	Height int
	Points []r3.Vector
}

// NewOrganized wraps row major points of a width x height image.
func NewOrganized(width, height int, points []r3.Vector) (*Organized, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid organized cloud size %dx%d", width, height)
	}
	if len(points) != width*height {
		return nil, errors.Errorf("expected %d points for a %dx%d cloud, got %d", width*height, width, height, len(points))
	}
	return &Organized{Width: width, Height: height, Points: points}, nil
}

// NaNPoint is the placeholder for pixels without depth.
func NaNPoint() r3.Vector {
	return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
}

// Len returns the number of pixels.
func (o *Organized) Len() int {
	return len(o.Points)
}

// At returns the point behind pixel (row, col).
func (o *Organized) At(row, col int) r3.Vector {
	return o.Points[row*o.Width+col]
}

// Masked returns the finite points whose pixel is set in mask.
func (o *Organized) Masked(mask []bool) ([]r3.Vector, error) {
	if len(mask) != len(o.Points) {
		return nil, errors.Errorf("mask has %d pixels, cloud has %d", len(mask), len(o.Points))
	}
	var out []r3.Vector
	for i, keep := range mask {
		if keep && isFinite(o.Points[i]) {
			out = append(out, o.Points[i])
		}
	}
	return out, nil
}

// Finite returns every finite point.
func (o *Organized) Finite() []r3.Vector {
	out := make([]r3.Vector, 0, len(o.Points))
	for _, p := range o.Points {
		if isFinite(p) {
			out = append(out, p)
		}
	}
	return out
}

// NaNMean averages the finite points, returning the number of points used. The mean of no points
// is NaN.
func NaNMean(points []r3.Vector) (r3.Vector, int) {
	var sum r3.Vector
	n := 0
	for _, p := range points {
		if isFinite(p) {
			sum = sum.Add(p)
			n++
		}
	}
	if n == 0 {
		return NaNPoint(), 0
	}
	return sum.Mul(1 / float64(n)), n
}

// BoundingBox returns the axis aligned bounds of the finite points.
func BoundingBox(points []r3.Vector) (lo, hi r3.Vector, ok bool) {
	for _, p := range points {
		if !isFinite(p) {
			continue
		}
		if !ok {
			lo, hi, ok = p, p, true
			continue
		}
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi, ok
}

func isFinite(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}
