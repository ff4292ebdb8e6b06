// Package voxel contains axis aligned voxel lattices, labeled occupancy grids and the
// differentiable voxelizers used to compare point sets against them.
package voxel

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// latticeTolerance is the slack allowed when comparing pitches and origins of two lattices.
const latticeTolerance = 1e-9

// Dims is the number of voxels along x, y and z.
type Dims [3]int

// Coords stores voxel coordinates in lattice axes.
type Coords struct {
	I, J, K int
}

// Lattice is a regular world aligned grid of cubic voxels. Origin is the world position of the
// corner of voxel (0, 0, 0).
type Lattice struct {
	Pitch  float64   `json:"pitch"`
	Origin r3.Vector `json:"origin"`
	Dims   Dims      `json:"dims"`
}

// NewLattice returns a validated lattice.
func NewLattice(pitch float64, origin r3.Vector, dims Dims) (Lattice, error) {
	l := Lattice{Pitch: pitch, Origin: origin, Dims: dims}
	if err := l.Validate(); err != nil {
		return Lattice{}, err
	}
	return l, nil
}

// Validate checks that the lattice has a positive pitch and at least one voxel.
func (l Lattice) Validate() error {
	if !(l.Pitch > 0) || math.IsInf(l.Pitch, 0) {
		return errors.Errorf("voxel pitch must be positive, got %v", l.Pitch)
	}
	for axis, d := range l.Dims {
		if d <= 0 {
			return errors.Errorf("voxel dimension %d must be positive, got %d", axis, d)
		}
	}
	return nil
}

// Len is the total number of voxels.
func (l Lattice) Len() int {
	return l.Dims[0] * l.Dims[1] * l.Dims[2]
}

// Index linearizes voxel coordinates as i*dy*dz + j*dz + k.
func (l Lattice) Index(c Coords) int {
	return c.I*l.Dims[1]*l.Dims[2] + c.J*l.Dims[2] + c.K
}

// Unravel is the inverse of Index.
func (l Lattice) Unravel(idx int) Coords {
	plane := l.Dims[1] * l.Dims[2]
	return Coords{I: idx / plane, J: (idx % plane) / l.Dims[2], K: idx % l.Dims[2]}
}

// Contains reports whether c lies inside the lattice.
func (l Lattice) Contains(c Coords) bool {
	return c.I >= 0 && c.J >= 0 && c.K >= 0 && c.I < l.Dims[0] && c.J < l.Dims[1] && c.K < l.Dims[2]
}

// Center returns the world position of the center of voxel c.
func (l Lattice) Center(c Coords) r3.Vector {
	return r3.Vector{
		X: l.Origin.X + (float64(c.I)+0.5)*l.Pitch,
		Y: l.Origin.Y + (float64(c.J)+0.5)*l.Pitch,
		Z: l.Origin.Z + (float64(c.K)+0.5)*l.Pitch,
	}
}

// Continuous returns the position of p in voxel units, shifted so that integer values fall on
// voxel centers.
func (l Lattice) Continuous(p r3.Vector) r3.Vector {
	return p.Sub(l.Origin).Mul(1 / l.Pitch).Sub(r3.Vector{X: 0.5, Y: 0.5, Z: 0.5})
}

// CoordsOf returns the coordinates of the voxel containing p. The result may lie outside the lattice.
func (l Lattice) CoordsOf(p r3.Vector) Coords {
	u := p.Sub(l.Origin).Mul(1 / l.Pitch)
	return Coords{I: int(math.Floor(u.X)), J: int(math.Floor(u.Y)), K: int(math.Floor(u.Z))}
}

// Max returns the world position of the far corner of the lattice.
func (l Lattice) Max() r3.Vector {
	return l.Origin.Add(r3.Vector{X: float64(l.Dims[0]), Y: float64(l.Dims[1]), Z: float64(l.Dims[2])}.Mul(l.Pitch))
}

// Matches reports whether two lattices share pitch, origin and dims.
func (l Lattice) Matches(o Lattice) bool {
	return l.Dims == o.Dims &&
		math.Abs(l.Pitch-o.Pitch) <= latticeTolerance &&
		l.Origin.Sub(o.Origin).Norm() <= latticeTolerance
}

// Mismatch describes how o differs from l, or returns the empty string.
func (l Lattice) Mismatch(o Lattice) string {
	switch {
	case l.Dims != o.Dims:
		return "dims"
	case math.Abs(l.Pitch-o.Pitch) > latticeTolerance:
		return "pitch"
	case l.Origin.Sub(o.Origin).Norm() > latticeTolerance:
		return "origin"
	}
	return ""
}

// IsFinite reports whether every coordinate of p is finite.
func IsFinite(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}
