package voxel

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Byte coded voxel labels. Values 1 through 253 are instance ids.
const (
	LabelBackground uint8 = 0
	LabelFree       uint8 = 254
	LabelUnknown    uint8 = 255
	// MaxInstanceID is the largest instance id a Grid can hold.
	MaxInstanceID = 253
)

// Grid is a labeled occupancy grid with exactly one label per voxel.
type Grid struct {
	Lattice
	Labels []uint8
}

// NewGrid returns a grid over l with every voxel set to fill.
func NewGrid(l Lattice, fill uint8) (*Grid, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	labels := make([]uint8, l.Len())
	if fill != 0 {
		for i := range labels {
			labels[i] = fill
		}
	}
	return &Grid{Lattice: l, Labels: labels}, nil
}

// At returns the label of voxel c.
func (g *Grid) At(c Coords) uint8 {
	return g.Labels[g.Index(c)]
}

// Set sets the label of voxel c.
func (g *Grid) Set(c Coords, label uint8) {
	g.Labels[g.Index(c)] = label
}

// Count returns the number of voxels carrying label.
func (g *Grid) Count(label uint8) int {
	n := 0
	for _, l := range g.Labels {
		if l == label {
			n++
		}
	}
	return n
}

// Indicator returns a 0/1 float mask of the voxels whose label satisfies keep.
func (g *Grid) Indicator(keep func(label uint8) bool) *FloatGrid {
	out := &FloatGrid{Lattice: g.Lattice, Values: make([]float64, len(g.Labels))}
	for i, l := range g.Labels {
		if keep(l) {
			out.Values[i] = 1
		}
	}
	return out
}

// FloatGrid holds one float per voxel. Target and no-entry grids use it.
type FloatGrid struct {
	Lattice
	Values []float64
}

// NewFloatGrid returns an all zero grid over l.
func NewFloatGrid(l Lattice) (*FloatGrid, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &FloatGrid{Lattice: l, Values: make([]float64, l.Len())}, nil
}

// Sum returns the sum of all values.
func (g *FloatGrid) Sum() float64 {
	return floats.Sum(g.Values)
}

// Check verifies that the value slice matches the lattice.
func (g *FloatGrid) Check() error {
	if err := g.Validate(); err != nil {
		return err
	}
	if len(g.Values) != g.Len() {
		return errors.Errorf("grid has %d values for %d voxels", len(g.Values), g.Len())
	}
	return nil
}
