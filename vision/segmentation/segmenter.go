// Package segmentation turns the output of an instance segmentation model into an instance label
// image that the scene grid builder can partition a point cloud with.
package segmentation

import (
	"context"
	"image"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Detection is one instance proposed by a segmentation model.
type Detection struct {
	ClassID    int
	Confidence float64
	// Mask is row major with one entry per pixel of the segmented image.
	Mask []bool
}

// A Segmenter is the model that proposes instances in an image. It is treated as a black box.
type Segmenter func(ctx context.Context, img image.Image) ([]Detection, error)

// LabelConfig are the parameters for building an instance label image.
type LabelConfig struct {
	// ContextClasses keeps only detections of these classes when not empty.
	ContextClasses   []int   `json:"context_classes"`
	ContourThickness int     `json:"contour_thickness"`
	MinConfidence    float64 `json:"min_confidence"`
}

// DefaultLabelConfig returns the contour thickness used with the stock segmentation model.
func DefaultLabelConfig() LabelConfig {
	return LabelConfig{ContourThickness: 10}
}

// ConvertAttributes changes an attribute map into a LabelConfig.
func (cfg *LabelConfig) ConvertAttributes(am map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: cfg})
	if err != nil {
		return err
	}
	return decoder.Decode(am)
}

// Validate checks the configuration.
func (cfg *LabelConfig) Validate() error {
	if cfg.ContourThickness < 0 {
		return errors.Errorf("contour_thickness must not be negative, got %d", cfg.ContourThickness)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return errors.Errorf("min_confidence must be in [0, 1], got %v", cfg.MinConfidence)
	}
	return nil
}

// SegmentAndLabel runs the segmenter on img and labels its detections.
func SegmentAndLabel(ctx context.Context, seg Segmenter, img image.Image, cfg LabelConfig) (*InstanceLabels, error) {
	if seg == nil {
		return nil, errors.New("segmenter cannot be nil")
	}
	dets, err := seg(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "segmenter")
	}
	bounds := img.Bounds()
	return LabelInstances(bounds.Dx(), bounds.Dy(), dets, cfg)
}
