package segmentation

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func rectMask(width, height, x0, y0, x1, y1 int) []bool {
	mask := make([]bool, width*height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			mask[y*width+x] = true
		}
	}
	return mask
}

func TestContourBand(t *testing.T) {
	mask := rectMask(10, 10, 2, 2, 8, 8)
	band := contourBand(10, 10, mask, 2)
	// border ring plus one step either side
	test.That(t, band[2*10+2], test.ShouldBeTrue)
	test.That(t, band[1*10+1], test.ShouldBeTrue)
	test.That(t, band[3*10+3], test.ShouldBeTrue)
	test.That(t, band[4*10+4], test.ShouldBeFalse)
	test.That(t, band[0], test.ShouldBeFalse)

	test.That(t, contourBand(10, 10, mask, 0), test.ShouldResemble, make([]bool, 100))
}

func TestLabelInstances(t *testing.T) {
	const w, h = 20, 10
	dets := []Detection{
		{ClassID: 3, Confidence: 0.9, Mask: rectMask(w, h, 0, 0, 10, 10)},
		{ClassID: 5, Confidence: 0.5, Mask: rectMask(w, h, 8, 0, 20, 10)},
		{ClassID: 7, Confidence: 0.99, Mask: rectMask(w, h, 0, 0, 1, 1)},
	}

	t.Run("confidence order and overwrites", func(t *testing.T) {
		labels, err := LabelInstances(w, h, dets, LabelConfig{ContourThickness: 1})
		test.That(t, err, test.ShouldBeNil)
		// the single pixel mask is all contour and is dropped
		test.That(t, labels.Instances, test.ShouldResemble, []Instance{
			{ID: 1, ClassID: 5, Confidence: 0.5},
			{ID: 2, ClassID: 3, Confidence: 0.9},
		})
		test.That(t, labels.IDs(), test.ShouldResemble, []int32{1, 2})
		test.That(t, labels.Labels[5*w+5], test.ShouldEqual, int32(2))
		test.That(t, labels.Labels[5*w+15], test.ShouldEqual, int32(1))
		test.That(t, labels.Labels[0], test.ShouldEqual, LabelContour)
		// the more confident mask covers the overlap
		test.That(t, labels.Labels[5*w+8], test.ShouldEqual, int32(2))
		test.That(t, labels.Labels[5*w+9], test.ShouldEqual, LabelContour)

		mask := labels.Mask(2)
		test.That(t, mask[5*w+5], test.ShouldBeTrue)
		test.That(t, mask[5*w+15], test.ShouldBeFalse)
	})

	t.Run("context classes", func(t *testing.T) {
		labels, err := LabelInstances(w, h, dets, LabelConfig{ContextClasses: []int{5}, ContourThickness: 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(labels.Instances), test.ShouldEqual, 1)
		test.That(t, labels.Instances[0].ClassID, test.ShouldEqual, 5)
		test.That(t, labels.Labels[5*w+5], test.ShouldEqual, LabelBackground)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := LabelInstances(w, h, []Detection{{Mask: []bool{true}}}, DefaultLabelConfig())
		test.That(t, err, test.ShouldNotBeNil)
		_, err = LabelInstances(w, h, nil, LabelConfig{ContourThickness: -1})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestLabelConfigAttributes(t *testing.T) {
	cfg := DefaultLabelConfig()
	err := cfg.ConvertAttributes(map[string]interface{}{"context_classes": []int{1, 2}, "min_confidence": 0.3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ContextClasses, test.ShouldResemble, []int{1, 2})
	test.That(t, cfg.ContourThickness, test.ShouldEqual, 10)
	test.That(t, cfg.MinConfidence, test.ShouldEqual, 0.3)
}

func TestSegmentAndLabel(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	seg := func(ctx context.Context, img image.Image) ([]Detection, error) {
		return []Detection{{ClassID: 1, Confidence: 1, Mask: rectMask(4, 4, 0, 0, 4, 4)}}, nil
	}
	labels, err := SegmentAndLabel(context.Background(), seg, img, LabelConfig{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels.Mask(1), test.ShouldResemble, rectMask(4, 4, 0, 0, 4, 4))

	failing := func(ctx context.Context, img image.Image) ([]Detection, error) {
		return nil, errors.New("no model")
	}
	_, err = SegmentAndLabel(context.Background(), failing, img, LabelConfig{})
	test.That(t, err, test.ShouldNotBeNil)
}
