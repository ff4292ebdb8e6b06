package voxel

import (
	"github.com/pkg/errors"
)

// DecodeSparse expands (linear index, value) pairs into a dense grid. Indices use the
// i*dy*dz + j*dz + k layout of Lattice.Index.
func DecodeSparse(l Lattice, indices []int64, values []float64) (*FloatGrid, error) {
	if len(indices) != len(values) {
		return nil, errors.Errorf("sparse grid has %d indices but %d values", len(indices), len(values))
	}
	g, err := NewFloatGrid(l)
	if err != nil {
		return nil, err
	}
	n := int64(l.Len())
	for i, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, errors.Errorf("sparse index %d out of range [0, %d)", idx, n)
		}
		g.Values[idx] = values[i]
	}
	return g, nil
}

// Sparse returns the nonzero voxels as (linear index, value) pairs in index order.
func (g *FloatGrid) Sparse() ([]int64, []float64) {
	var indices []int64
	var values []float64
	for i, v := range g.Values {
		if v != 0 {
			indices = append(indices, int64(i))
			values = append(values, v)
		}
	}
	return indices, values
}
