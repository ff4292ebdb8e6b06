// Package models looks up the CAD point sets and signed distance samples of object classes.
package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/poserefine/pointcloud"
)

// File names inside a class directory.
const (
	PointsFile = "points.xyz"
	SDFFile    = "sdf.xyzd"
)

// SDF is a set of points in the object frame with the signed distance to the object surface at
// each of them.
type SDF struct {
	Points    []r3.Vector
	Distances []float64
}

// Len returns the number of samples.
func (s *SDF) Len() int {
	return len(s.Points)
}

// Repository returns the immutable model data of an object class.
type Repository interface {
	// PointSet returns the reference point set of the class in the object frame.
	PointSet(ctx context.Context, classID int) ([]r3.Vector, error)
	// SDF returns the signed distance samples of the class.
	SDF(ctx context.Context, classID int) (*SDF, error)
	// BoundingDiagonal returns the diagonal of the axis aligned bounding box of the point set.
	BoundingDiagonal(ctx context.Context, classID int) (float64, error)
}

// UnknownClassError is returned for a class a repository has no data for.
type UnknownClassError struct {
	ClassID int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("unknown class %d", e.ClassID)
}

// IsUnknownClass reports whether err is or wraps an UnknownClassError.
func IsUnknownClass(err error) bool {
	var target *UnknownClassError
	return errors.As(err, &target)
}

// DirectoryRepository reads <root>/<class id>/points.xyz and <root>/<class id>/sdf.xyzd.
type DirectoryRepository struct {
	root string
}

// NewDirectoryRepository returns a repository over the class directories of root.
func NewDirectoryRepository(root string) (*DirectoryRepository, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open model directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", root)
	}
	return &DirectoryRepository{root: root}, nil
}

func (r *DirectoryRepository) open(classID int, name string) (*os.File, error) {
	//nolint:gosec
	f, err := os.Open(filepath.Join(r.root, strconv.Itoa(classID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &UnknownClassError{ClassID: classID}
		}
		return nil, err
	}
	return f, nil
}

// PointSet reads the point file of the class.
func (r *DirectoryRepository) PointSet(ctx context.Context, classID int) ([]r3.Vector, error) {
	f, err := r.open(classID, PointsFile)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	points, err := pointcloud.ReadXYZ(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading points of class %d", classID)
	}
	if len(points) == 0 {
		return nil, errors.Errorf("class %d has an empty point set", classID)
	}
	return points, nil
}

// SDF reads the signed distance file of the class.
func (r *DirectoryRepository) SDF(ctx context.Context, classID int) (*SDF, error) {
	f, err := r.open(classID, SDFFile)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	points, distances, err := pointcloud.ReadXYZD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sdf of class %d", classID)
	}
	if len(points) == 0 {
		return nil, errors.Errorf("class %d has an empty sdf", classID)
	}
	return &SDF{Points: points, Distances: distances}, nil
}

// BoundingDiagonal reads the point set of the class and measures its bounding box.
func (r *DirectoryRepository) BoundingDiagonal(ctx context.Context, classID int) (float64, error) {
	points, err := r.PointSet(ctx, classID)
	if err != nil {
		return 0, err
	}
	return Diagonal(points)
}

// Diagonal returns the diagonal of the bounding box of the finite points.
func Diagonal(points []r3.Vector) (float64, error) {
	lo, hi, ok := pointcloud.BoundingBox(points)
	if !ok {
		return 0, errors.New("no finite points")
	}
	return hi.Sub(lo).Norm(), nil
}
