// Package rimage holds the depth images point clouds are projected from.
package rimage

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Depth is a depth reading in millimeters; zero means no reading.
type Depth uint16

// DepthMap is a row major image of depth readings.
type DepthMap struct {
	width  int
	height int
	data   []Depth
}

// NewEmptyDepthMap returns a depth map with no readings.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{width: width, height: height, data: make([]Depth, width*height)}
}

// Width returns the horizontal size.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size.
func (dm *DepthMap) Height() int {
	return dm.height
}

// GetDepth returns the reading at column x, row y.
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set sets the reading at column x, row y.
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[y*dm.width+x] = val
}

// ConvertImageToDepthMap reads a 16 bit grayscale image as millimeter depths.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	gray, ok := img.(*image.Gray16)
	if !ok {
		return nil, errors.Errorf("expected a 16 bit grayscale image, got %T", img)
	}
	bounds := gray.Bounds()
	dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			dm.Set(x, y, Depth(gray.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
		}
	}
	return dm, nil
}

// ToGray16Picture converts the depth map to a 16 bit grayscale image.
func (dm *DepthMap) ToGray16Picture() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, dm.width, dm.height))
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ParseDepthMap reads a depth map from a 16 bit png file.
func ParseDepthMap(fn string) (*DepthMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding depth png %s", fn)
	}
	return ConvertImageToDepthMap(img)
}
